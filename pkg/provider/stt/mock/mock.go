// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed scripted results and failures and to inspect which
// requests were made. Errs is consumed one entry per call before Result/Err
// apply, which makes "fail twice then succeed" scenarios a one-liner:
//
//	p := &mock.Provider{
//	    Errs:   []error{errRateLimited, errRateLimited},
//	    Result: &stt.Result{Text: "hello"},
//	}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/sflow/pkg/provider/stt"
)

// Call records a single invocation of Transcribe.
type Call struct {
	// Req is the request passed to Transcribe. Audio has already been read
	// into AudioBytes.
	Req stt.Request

	// AudioBytes is the number of bytes read from Req.Audio.
	AudioBytes int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Errs are returned by successive calls, one per call, before falling back
	// to Result and Err. A nil entry means "use Result".
	Errs []error

	// Result is returned when no scripted error applies.
	Result *stt.Result

	// Err is returned when Errs is exhausted.
	Err error

	// Fn, if set, replaces the scripted behaviour entirely.
	Fn func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// Calls records every call in order.
	Calls []Call
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the scripted outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	n := 0
	if req.Audio != nil {
		b, _ := io.ReadAll(req.Audio)
		n = len(b)
	}

	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Req: req, AudioBytes: n})
	fn := p.Fn
	var scripted error
	useScript := len(p.Errs) > 0
	if useScript {
		scripted = p.Errs[0]
		p.Errs = p.Errs[1:]
	}
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if useScript && scripted != nil {
		return nil, scripted
	}
	if !useScript && err != nil {
		return nil, err
	}
	if result == nil {
		return &stt.Result{}, nil
	}
	r := *result
	return &r, nil
}

// CallCount returns the number of Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
