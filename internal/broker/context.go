package broker

import (
	"sort"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix/v2"
)

// Context is the BootstrapContext naming scope (spec.md §3/§4.4). Service
// names live in an immutable radix tree so Info() can take a cheap,
// lock-free snapshot of the tree pointer while writers keep mutating.
type Context struct {
	ID       string
	OwnerID  string // owning job id
	ParentID string // empty for the root context

	mu       sync.Mutex
	services *iradix.Tree[*Service]
}

func newContext(id, ownerID, parentID string) *Context {
	return &Context{
		ID:       id,
		OwnerID:  ownerID,
		ParentID: parentID,
		services: iradix.New[*Service](),
	}
}

func (c *Context) localGet(name string) (*Service, bool) {
	c.mu.Lock()
	tree := c.services
	c.mu.Unlock()
	return tree.Get([]byte(name))
}

func (c *Context) localPut(svc *Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services, _, _ = c.services.Insert([]byte(svc.Name), svc)
}

func (c *Context) localDelete(name string) (*Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tree, old, existed := c.services.Delete([]byte(name))
	c.services = tree
	return old, existed
}

// snapshot returns every locally owned service, sorted by name (SPEC_FULL
// §6.1: deterministic ordering for wire encoders).
func (c *Context) snapshot() []*Service {
	c.mu.Lock()
	tree := c.services
	c.mu.Unlock()

	var out []*Service
	iter := tree.Root().Iterator()
	for {
		_, v, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
