package containertool

import (
	"context"
	"errors"
	"os/exec"

	"github.com/stretchr/testify/mock"
)

// mockRunner is a testify mock of Runner. LookPath answers from installed.
type mockRunner struct {
	mock.Mock
	installed map[string]bool
}

func newMockRunner(installed ...string) *mockRunner {
	m := &mockRunner{installed: make(map[string]bool)}
	for _, name := range installed {
		m.installed[name] = true
	}
	return m
}

func (m *mockRunner) LookPath(name string) (string, error) {
	if m.installed[name] {
		return "/usr/bin/" + name, nil
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func (m *mockRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	ret := m.Called(dir, name, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).([]byte), ret.Error(1)
}

func (m *mockRunner) Stream(ctx context.Context, dir, name string, args ...string) error {
	ret := m.Called(dir, name, args)
	return ret.Error(0)
}

var errExit = errors.New("exit status 1")
