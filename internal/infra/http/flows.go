package http

import (
	"sync"
	"time"

	"cloudgate/internal/infra/auth/oidc"
)

const flowTTL = 10 * time.Minute

// loginFlow is the state of one in-flight interactive login. The
// resolved authority is pinned here so the callback redeems the code at
// exactly the endpoints the login attempt resolved, never at endpoints
// belonging to a concurrent attempt against another tenant.
type loginFlow struct {
	Authority oidc.Authority
	Tenant    string
	Nonce     string
	Created   time.Time
}

// flowTable holds pending login flows keyed by the OAuth state value.
// Take is one-shot, so a state value cannot be replayed.
type flowTable struct {
	mu    sync.Mutex
	flows map[string]loginFlow
}

func newFlowTable() *flowTable {
	return &flowTable{flows: make(map[string]loginFlow)}
}

func (t *flowTable) Put(state string, flow loginFlow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, pending := range t.flows {
		if time.Since(pending.Created) > flowTTL {
			delete(t.flows, key)
		}
	}
	flow.Created = time.Now()
	t.flows[state] = flow
}

func (t *flowTable) Take(state string) (loginFlow, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	flow, ok := t.flows[state]
	if !ok {
		return loginFlow{}, false
	}
	delete(t.flows, state)
	if time.Since(flow.Created) > flowTTL {
		return loginFlow{}, false
	}
	return flow, true
}
