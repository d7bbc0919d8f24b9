// This file is for tests, but isn't a _test file so other packages' tests can use the stub.

package zkmigration

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-zookeeper/zk"
)

// Stub is an in-memory Handler
type Stub struct {
	mu   sync.Mutex
	zxid int64
	data map[string]*StubZnode
}

// StubZnode stubs a ZooKeeper znode.
type StubZnode struct {
	value    []byte
	stat     zk.Stat
	children map[string]*StubZnode
}

// NewStub returns an empty stub ZooKeeper
func NewStub() *Stub {
	return &Stub{data: map[string]*StubZnode{}}
}

// Set creates or updates the znode at p, creating missing parents.
// Every write bumps the stub's zxid; creation sets Czxid, every write sets Mzxid.
func (s *Stub) Set(p string, d string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := strings.Split(strings.Trim(p, "/"), "/")
	children := s.data
	var current *StubZnode
	for _, path := range paths {
		next, exist := children[path]
		if !exist {
			s.zxid++
			next = &StubZnode{children: map[string]*StubZnode{}, stat: zk.Stat{Czxid: s.zxid, Mzxid: s.zxid}}
			children[path] = next
		}
		current = next
		children = next.children
	}
	s.zxid++
	current.value = []byte(d)
	current.stat.Mzxid = s.zxid
	current.stat.Version++
}

// Delete removes the znode at p and its children
func (s *Stub) Delete(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := strings.Split(strings.Trim(p, "/"), "/")
	parent, err := s.lookup(paths[:len(paths)-1])
	if err != nil {
		return err
	}
	children := s.data
	if parent != nil {
		children = parent.children
	}
	name := paths[len(paths)-1]
	if _, ok := children[name]; !ok {
		return fmt.Errorf("[%s] %w", p, ErrNoNode)
	}
	delete(children, name)
	return nil
}

// Get stubs Get.
func (s *Stub) Get(p string) ([]byte, *zk.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.lookup(strings.Split(strings.Trim(p, "/"), "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("[%s] %w", p, err)
	}
	stat := node.stat
	return node.value, &stat, nil
}

// Children stubs Children. Names are sorted.
func (s *Stub) Children(p string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, err := s.lookup(strings.Split(strings.Trim(p, "/"), "/"))
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", p, err)
	}
	children := []string{}
	for name := range node.children {
		children = append(children, name)
	}
	sort.Strings(children)
	return children, nil
}

// Close stubs Close.
func (s *Stub) Close() {}

// lookup must be called with the lock held. An empty path is the root, returned as nil.
func (s *Stub) lookup(paths []string) (*StubZnode, error) {
	children := s.data
	var current *StubZnode
	for _, path := range paths {
		next, ok := children[path]
		if !ok {
			return nil, ErrNoNode
		}
		current = next
		children = next.children
	}
	return current, nil
}
