package engine

import (
	"context"
	"strings"
)

// fakeRunner records invocations and returns canned output per command.
type fakeRunner struct {
	calls []string
	fn    func(name string, args []string) (stdout, stderr []byte, err error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	if f.fn == nil {
		return nil, nil, nil
	}
	return f.fn(name, args)
}
