// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"

	"github.com/ava-labs/schedulervm/task"
)

// CodecVersion is the version the state (un)marshals with. The codec handed
// to New must have it registered.
const CodecVersion = 0

const agendaKeyLen = database.Uint64Size + 4

var (
	ErrSlotsExhausted = errors.New("block has no free slots")

	errMalformedAgendaKey = errors.New("malformed agenda key")

	agendaPrefix   = []byte("agenda")
	slotsPrefix    = []byte("slots")
	lookupPrefix   = []byte("lookup")
	fundPrefix     = []byte("fund")
	metadataPrefix = []byte("metadata")

	heightKey = []byte("height")
)

/*
 * SchedulerDB
 * |-. agenda
 * | '-- block + slot -> task bytes
 * |-. slots
 * | '-- block -> number of slots ever appended to the block
 * |-. lookup
 * | '-- task id -> address bytes
 * |-. fund
 * | '-- principal key -> fund bytes
 * '-. metadata
 *   '-- heightKey -> last processed height
 */
type State struct {
	codec codec.Manager

	agendaDB   database.Database
	slotsDB    database.Database
	lookupDB   database.Database
	fundDB     database.Database
	metadataDB database.Database
}

func New(db database.Database, c codec.Manager) *State {
	return &State{
		codec:      c,
		agendaDB:   prefixdb.New(agendaPrefix, db),
		slotsDB:    prefixdb.New(slotsPrefix, db),
		lookupDB:   prefixdb.New(lookupPrefix, db),
		fundDB:     prefixdb.New(fundPrefix, db),
		metadataDB: prefixdb.New(metadataPrefix, db),
	}
}

func agendaKey(addr task.Address) []byte {
	return binary.BigEndian.AppendUint32(database.PackUInt64(addr.Block), addr.Slot)
}

// Agenda

func (s *State) numSlots(block uint64) (uint32, error) {
	numSlots, err := getUInt64(s.slotsDB, database.PackUInt64(block))
	return uint32(numSlots), err
}

// Append places [t] in the next slot of [block]. Slot numbers are never
// reused within a block, so vacated slots keep other addresses stable.
func (s *State) Append(block uint64, t *task.Task) (task.Address, error) {
	numSlots, err := s.numSlots(block)
	if err != nil {
		return task.Address{}, err
	}
	if numSlots == math.MaxUint32 {
		return task.Address{}, fmt.Errorf("%w: %d", ErrSlotsExhausted, block)
	}

	addr := task.Address{
		Block: block,
		Slot:  numSlots,
	}
	bytes, err := s.codec.Marshal(CodecVersion, t)
	if err != nil {
		return task.Address{}, fmt.Errorf("couldn't marshal task: %w", err)
	}
	if err := s.agendaDB.Put(agendaKey(addr), bytes); err != nil {
		return task.Address{}, err
	}
	return addr, database.PutUInt64(s.slotsDB, database.PackUInt64(block), uint64(numSlots)+1)
}

// GetTask returns the task at [addr], or database.ErrNotFound if the slot
// is vacant.
func (s *State) GetTask(addr task.Address) (*task.Task, error) {
	bytes, err := s.agendaDB.Get(agendaKey(addr))
	if err != nil {
		return nil, err
	}
	return s.parseTask(bytes)
}

// Vacate leaves a tombstone at [addr].
func (s *State) Vacate(addr task.Address) error {
	return s.agendaDB.Delete(agendaKey(addr))
}

func (s *State) parseTask(bytes []byte) (*task.Task, error) {
	t := &task.Task{}
	if _, err := s.codec.Unmarshal(bytes, t); err != nil {
		return nil, fmt.Errorf("couldn't unmarshal task: %w", err)
	}
	return t, nil
}

// Agenda returns every slot of [block] in slot order. Vacated slots are nil.
func (s *State) Agenda(block uint64) ([]*task.Task, error) {
	slots, _, err := s.agenda(block)
	return slots, err
}

func (s *State) agenda(block uint64) ([]*task.Task, [][]byte, error) {
	numSlots, err := s.numSlots(block)
	if err != nil {
		return nil, nil, err
	}

	var (
		slots = make([]*task.Task, numSlots)
		keys  [][]byte
		it    = s.agendaDB.NewIteratorWithPrefix(database.PackUInt64(block))
	)
	defer it.Release()

	for it.Next() {
		key := it.Key()
		if len(key) != agendaKeyLen {
			return nil, nil, fmt.Errorf("%w: %d", errMalformedAgendaKey, len(key))
		}
		slot := binary.BigEndian.Uint32(key[database.Uint64Size:])
		if slot >= numSlots {
			return nil, nil, fmt.Errorf("slot %d of block %d is beyond the %d allocated", slot, block, numSlots)
		}
		t, err := s.parseTask(it.Value())
		if err != nil {
			return nil, nil, err
		}
		slots[slot] = t
		keys = append(keys, slices.Clone(key))
	}
	return slots, keys, it.Error()
}

// Take drains [block]: it returns the same slots as Agenda and removes the
// block from the agenda entirely.
func (s *State) Take(block uint64) ([]*task.Task, error) {
	slots, keys, err := s.agenda(block)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if err := s.agendaDB.Delete(key); err != nil {
			return nil, err
		}
	}
	return slots, s.slotsDB.Delete(database.PackUInt64(block))
}

// Occupied returns the number of non-vacant slots in [block].
func (s *State) Occupied(block uint64) (int, error) {
	it := s.agendaDB.NewIteratorWithPrefix(database.PackUInt64(block))
	defer it.Release()

	count := 0
	for it.Next() {
		count++
	}
	return count, it.Error()
}

// Lookup

// GetLookup returns the address of the active task [id], or
// database.ErrNotFound.
func (s *State) GetLookup(id []byte) (task.Address, error) {
	bytes, err := s.lookupDB.Get(id)
	if err != nil {
		return task.Address{}, err
	}
	var addr task.Address
	if _, err := s.codec.Unmarshal(bytes, &addr); err != nil {
		return task.Address{}, fmt.Errorf("couldn't unmarshal address: %w", err)
	}
	return addr, nil
}

func (s *State) PutLookup(id []byte, addr task.Address) error {
	bytes, err := s.codec.Marshal(CodecVersion, &addr)
	if err != nil {
		return fmt.Errorf("couldn't marshal address: %w", err)
	}
	return s.lookupDB.Put(id, bytes)
}

func (s *State) DeleteLookup(id []byte) error {
	return s.lookupDB.Delete(id)
}

// Funds

func (s *State) GetFund(p task.Principal) (Fund, error) {
	bytes, err := s.fundDB.Get(p.Key())
	if err == database.ErrNotFound {
		return Fund{}, nil
	}
	if err != nil {
		return Fund{}, err
	}
	var fund Fund
	if _, err := s.codec.Unmarshal(bytes, &fund); err != nil {
		return Fund{}, fmt.Errorf("couldn't unmarshal fund: %w", err)
	}
	return fund, nil
}

func (s *State) PutFund(p task.Principal, fund Fund) error {
	if fund == (Fund{}) {
		return s.fundDB.Delete(p.Key())
	}
	bytes, err := s.codec.Marshal(CodecVersion, &fund)
	if err != nil {
		return fmt.Errorf("couldn't marshal fund: %w", err)
	}
	return s.fundDB.Put(p.Key(), bytes)
}

// FlagRefund marks [p] as owed a refund.
func (s *State) FlagRefund(p task.Principal) error {
	fund, err := s.GetFund(p)
	if err != nil {
		return err
	}
	if fund.RefundOwed {
		return nil
	}
	fund.RefundOwed = true
	return s.PutFund(p, fund)
}

// Metadata

// IsInitialized returns true once a height has been stored.
func (s *State) IsInitialized() (bool, error) {
	return s.metadataDB.Has(heightKey)
}

func (s *State) GetHeight() (uint64, error) {
	return getUInt64(s.metadataDB, heightKey)
}

// getUInt64 returns 0 if [key] isn't in [db].
func getUInt64(db database.KeyValueReader, key []byte) (uint64, error) {
	value, err := database.GetUInt64(db, key)
	if err == database.ErrNotFound {
		return 0, nil
	}
	return value, err
}

func (s *State) PutHeight(height uint64) error {
	return database.PutUInt64(s.metadataDB, heightKey, height)
}
