package main

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/qotd/internal/ledger"
	"go.uber.org/zap"
)

type closeErrStore struct {
	closeErr error
	closed   bool
}

func (s *closeErrStore) Load(context.Context) (*ledger.Ledger, error) { return ledger.New(), nil }
func (s *closeErrStore) Save(context.Context, *ledger.Ledger) error   { return nil }
func (s *closeErrStore) Close() error {
	s.closed = true
	return s.closeErr
}

func TestEnvClose_ReportsStoreError(t *testing.T) {
	boom := errors.New("disk gone")
	store := &closeErrStore{closeErr: boom}
	e := &env{log: zap.NewNop(), store: store}

	err := e.Close()
	if !errors.Is(err, boom) {
		t.Fatalf("Close err = %v, want %v", err, boom)
	}
	if !store.closed {
		t.Error("store was not closed")
	}
}

func TestCloseInto(t *testing.T) {
	boom := errors.New("disk gone")

	var err error
	closeInto(&err, &env{log: zap.NewNop(), store: &closeErrStore{closeErr: boom}})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want close error when none was set", err)
	}

	first := errors.New("run failed")
	err = first
	closeInto(&err, &env{log: zap.NewNop(), store: &closeErrStore{closeErr: boom}})
	if err != first {
		t.Errorf("err = %v, want the earlier error kept", err)
	}

	err = nil
	closeInto(&err, &env{log: zap.NewNop(), store: &closeErrStore{}})
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
