// Copyright (C) 2019-2024, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/rpc/v2"
	"go.uber.org/zap"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/logging"

	"github.com/ava-labs/schedulervm/actions"
	"github.com/ava-labs/schedulervm/node"
	"github.com/ava-labs/schedulervm/scheduler"
	"github.com/ava-labs/schedulervm/task"

	avajson "github.com/ava-labs/avalanchego/utils/json"
)

// Name is the name the service is registered under.
const Name = "scheduler"

var (
	errAmbiguousTarget   = errors.New("exactly one of at and after must be provided")
	errUnknownAction     = errors.New("unknown action type")
	errSystemWithAddress = errors.New("system principal can't have an address")
	errMissingAddress    = errors.New("missing address")
	errZeroAmount        = errors.New("amount must be positive")
)

// Service exposes the scheduler of a node over JSON-RPC.
type Service struct {
	node *node.Node
	log  logging.Logger
}

func New(n *node.Node, log logging.Logger) *Service {
	return &Service{
		node: n,
		log:  log,
	}
}

// NewHandler returns the JSON-RPC handler serving [s].
func NewHandler(s *Service) (http.Handler, error) {
	codec := avajson.NewCodec()

	server := rpc.NewServer()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(s, Name)
}

// PrincipalArgs identifies the principal an operation is made on behalf of.
type PrincipalArgs struct {
	System  bool   `json:"system"`
	Address string `json:"address"`
}

func (p *PrincipalArgs) parse() (task.Principal, error) {
	if p.System {
		if p.Address != "" {
			return task.Principal{}, errSystemWithAddress
		}
		return task.SystemPrincipal, nil
	}
	addr, err := parseAddress(p.Address)
	if err != nil {
		return task.Principal{}, err
	}
	return task.UserPrincipal(addr), nil
}

func parseAddress(s string) (ids.ShortID, error) {
	if s == "" {
		return ids.ShortEmpty, errMissingAddress
	}
	addr, err := ids.ShortFromString(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("couldn't parse address %q: %w", s, err)
	}
	return addr, nil
}

// ActionArgs describes one of the actions the node knows how to run.
type ActionArgs struct {
	// Type is either "remark" or "transfer".
	Type string `json:"type"`
	// Payload of a remark, hex encoded.
	Payload string `json:"payload"`
	// Recipient and amount of a transfer.
	To     string         `json:"to"`
	Amount avajson.Uint64 `json:"amount"`
}

func (a *ActionArgs) parse() (task.Action, error) {
	switch a.Type {
	case "remark":
		var payload []byte
		if a.Payload != "" {
			var err error
			payload, err = formatting.Decode(formatting.HexNC, a.Payload)
			if err != nil {
				return nil, fmt.Errorf("couldn't decode payload: %w", err)
			}
		}
		return &actions.Remark{Payload: payload}, nil
	case "transfer":
		to, err := parseAddress(a.To)
		if err != nil {
			return nil, err
		}
		return &actions.Transfer{
			To:     to,
			Amount: uint64(a.Amount),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownAction, a.Type)
	}
}

// WhenArgs is either an absolute block or a delay.
type WhenArgs struct {
	At    avajson.Uint64 `json:"at"`
	After avajson.Uint64 `json:"after"`
}

func (w *WhenArgs) parse() (task.When, error) {
	switch {
	case w.At != 0 && w.After == 0:
		return task.At(uint64(w.At)), nil
	case w.At == 0 && w.After != 0:
		return task.After(uint64(w.After)), nil
	default:
		return task.When{}, errAmbiguousTarget
	}
}

type AddressReply struct {
	Block avajson.Uint64 `json:"block"`
	Slot  avajson.Uint32 `json:"slot"`
}

func newAddressReply(addr task.Address) AddressReply {
	return AddressReply{
		Block: avajson.Uint64(addr.Block),
		Slot:  avajson.Uint32(addr.Slot),
	}
}

type EmptyReply struct{}

type SubmitArgs struct {
	WhenArgs
	ID          string         `json:"id"`
	Period      avajson.Uint64 `json:"period"`
	Occurrences avajson.Uint32 `json:"occurrences"`
	Priority    avajson.Uint8  `json:"priority"`
	Principal   PrincipalArgs  `json:"principal"`
	Action      ActionArgs     `json:"action"`
}

func (s *Service) Submit(_ *http.Request, args *SubmitArgs, reply *AddressReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "submit"),
	)

	when, err := args.WhenArgs.parse()
	if err != nil {
		return err
	}
	principal, err := args.Principal.parse()
	if err != nil {
		return err
	}
	action, err := args.Action.parse()
	if err != nil {
		return err
	}

	addr, err := s.node.Submit(scheduler.SubmitRequest{
		ID:         []byte(args.ID),
		When:       when,
		Action:     action,
		Principal:  principal,
		Recurrence: task.NewRecurrence(uint64(args.Period), uint32(args.Occurrences)),
		Priority:   task.Priority(args.Priority),
	})
	*reply = newAddressReply(addr)
	return err
}

type TaskArgs struct {
	ID        string        `json:"id"`
	Principal PrincipalArgs `json:"principal"`
}

func (s *Service) Cancel(_ *http.Request, args *TaskArgs, _ *EmptyReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "cancel"),
	)

	principal, err := args.Principal.parse()
	if err != nil {
		return err
	}
	return s.node.Cancel([]byte(args.ID), principal)
}

type RescheduleArgs struct {
	TaskArgs
	WhenArgs
}

func (s *Service) Reschedule(_ *http.Request, args *RescheduleArgs, reply *AddressReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "reschedule"),
	)

	when, err := args.WhenArgs.parse()
	if err != nil {
		return err
	}
	principal, err := args.Principal.parse()
	if err != nil {
		return err
	}
	addr, err := s.node.Reschedule([]byte(args.ID), principal, when)
	*reply = newAddressReply(addr)
	return err
}

type AmountArgs struct {
	Address string         `json:"address"`
	Amount  avajson.Uint64 `json:"amount"`
}

func (s *Service) Fund(_ *http.Request, args *AmountArgs, _ *EmptyReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "fund"),
	)

	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	return s.node.Fund(task.UserPrincipal(addr), uint64(args.Amount))
}

type AddressArgs struct {
	Address string `json:"address"`
}

func (s *Service) Redeem(_ *http.Request, args *AddressArgs, _ *EmptyReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "redeem"),
	)

	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	return s.node.Redeem(task.UserPrincipal(addr))
}

// Mint credits development funds to an address.
func (s *Service) Mint(_ *http.Request, args *AmountArgs, _ *EmptyReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "mint"),
	)

	if args.Amount == 0 {
		return errZeroAmount
	}
	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	return s.node.Mint(addr, uint64(args.Amount))
}

type IDArgs struct {
	ID string `json:"id"`
}

type GetTaskReply struct {
	Task    *task.Task   `json:"task"`
	Address AddressReply `json:"address"`
}

func (s *Service) GetTask(_ *http.Request, args *IDArgs, reply *GetTaskReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "getTask"),
	)

	t, addr, err := s.node.GetTask([]byte(args.ID))
	if err != nil {
		return err
	}
	reply.Task = t
	reply.Address = newAddressReply(addr)
	return nil
}

type GetAgendaArgs struct {
	Block avajson.Uint64 `json:"block"`
}

type GetAgendaReply struct {
	// Slots holds null for every vacated slot.
	Slots []*task.Task `json:"slots"`
}

func (s *Service) GetAgenda(_ *http.Request, args *GetAgendaArgs, reply *GetAgendaReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "getAgenda"),
	)

	slots, err := s.node.Agenda(uint64(args.Block))
	reply.Slots = slots
	return err
}

type GetFundReply struct {
	Locked     avajson.Uint64 `json:"locked"`
	Consumed   avajson.Uint64 `json:"consumed"`
	RefundOwed bool           `json:"refundOwed"`
}

func (s *Service) GetFund(_ *http.Request, args *AddressArgs, reply *GetFundReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "getFund"),
	)

	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	fund, err := s.node.GetFund(task.UserPrincipal(addr))
	if err != nil {
		return err
	}
	reply.Locked = avajson.Uint64(fund.Locked)
	reply.Consumed = avajson.Uint64(fund.Consumed)
	reply.RefundOwed = fund.RefundOwed
	return nil
}

type GetBalanceReply struct {
	Balance avajson.Uint64 `json:"balance"`
}

func (s *Service) GetBalance(_ *http.Request, args *AddressArgs, reply *GetBalanceReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "getBalance"),
	)

	addr, err := parseAddress(args.Address)
	if err != nil {
		return err
	}
	balance, err := s.node.Balance(addr)
	reply.Balance = avajson.Uint64(balance)
	return err
}

type GetHeightReply struct {
	Height avajson.Uint64 `json:"height"`
}

func (s *Service) GetHeight(_ *http.Request, _ *struct{}, reply *GetHeightReply) error {
	s.log.Debug("API called",
		zap.String("service", Name),
		zap.String("method", "getHeight"),
	)

	reply.Height = avajson.Uint64(s.node.Height())
	return nil
}
