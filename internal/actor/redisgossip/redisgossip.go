// Package redisgossip is a Redis pub/sub-backed actor.Actor: members
// announce themselves on a shared channel, and round-robin leadership
// is derived from a shared, monotonically increasing counter. Each
// member picks the leader from the value its own INCR returns and its
// own view of the member set, so members can disagree and more than
// one member (or none) may consider itself Tagged in a cycle. It is a deliberately simple
// stand-in for the real gossip/consensus service spec.md treats as an
// opaque external collaborator (spec.md §1) — adequate for driving the
// runner core, not a consensus implementation in its own right.
package redisgossip

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/runnerkv/runner/internal/actor"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

type wireMsg struct {
	Kind  string `json:"kind"` // "ping" | "auth_ping"
	Node  string `json:"node"`
	Value int    `json:"value,omitempty"`
}

type Config struct {
	Addr         string
	Password     string
	DB           int
	Group        string
	CycleTime    time.Duration
	HistorySize  int
	IsCore       bool // whether this node may publish AuthPing
}

type Gossip struct {
	log  *logger.Logger
	rdb  *goredis.Client
	name string
	cfg  Config

	events chan actor.Event

	mu       sync.Mutex
	members  map[string]time.Time
	enabled  bool
	quorum   int
	lastTag  string
	stopOnce sync.Once
	cancel   context.CancelFunc
}

var _ actor.Actor = (*Gossip)(nil)

func New(ctx context.Context, log *logger.Logger, name string, cfg Config) (*Gossip, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redisgossip: missing address")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisgossip: ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g := &Gossip{
		log:     log.With("component", "RedisGossipActor", "group", cfg.Group),
		rdb:     rdb,
		name:    name,
		cfg:     cfg,
		events:  make(chan actor.Event, 128),
		members: map[string]time.Time{name: time.Now()},
		cancel:  cancel,
	}
	go g.run(runCtx)
	return g, nil
}

func (g *Gossip) channel() string { return "actor:" + g.cfg.Group + ":gossip" }
func (g *Gossip) cycleKey() string { return "actor:" + g.cfg.Group + ":cycle" }

func (g *Gossip) run(ctx context.Context) {
	sub := g.rdb.Subscribe(ctx, g.channel())
	defer sub.Close()

	go g.announceLoop(ctx)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var msg wireMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			g.handleMsg(ctx, msg)
		}
	}
}

func (g *Gossip) handleMsg(ctx context.Context, msg wireMsg) {
	g.mu.Lock()
	g.members[msg.Node] = time.Now()
	g.mu.Unlock()

	switch msg.Kind {
	case "ping":
		g.emit(ctx, actor.Ping{Node: msg.Node, Value: msg.Value})
		g.maybeRotateLeader(ctx)
	case "auth_ping":
		g.emit(ctx, actor.AuthPing{Node: msg.Node})
	}
}

func (g *Gossip) maybeRotateLeader(ctx context.Context) {
	n, err := g.rdb.Incr(ctx, g.cycleKey()).Result()
	if err != nil {
		g.log.Warn("redisgossip: cycle counter increment failed", "error", err)
		return
	}

	g.mu.Lock()
	names := make([]string, 0, len(g.members))
	for m := range g.members {
		names = append(names, m)
	}
	sort.Strings(names)
	if len(names) == 0 {
		g.mu.Unlock()
		return
	}
	leader := names[int(n)%len(names)]
	wasLeader := g.lastTag == g.name
	isLeader := leader == g.name
	g.lastTag = leader
	g.mu.Unlock()

	if isLeader && !wasLeader {
		g.emit(ctx, actor.Tag{})
	} else if !isLeader && wasLeader {
		g.emit(ctx, actor.Untag{})
	}
}

func (g *Gossip) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.CycleTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.publish(ctx, wireMsg{Kind: "ping", Node: g.name})
			if g.cfg.IsCore {
				g.publish(ctx, wireMsg{Kind: "auth_ping", Node: g.name})
			}
		}
	}
}

func (g *Gossip) publish(ctx context.Context, msg wireMsg) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := g.rdb.Publish(ctx, g.channel(), raw).Err(); err != nil {
		g.log.Warn("redisgossip: publish failed", "error", err)
	}
}

func (g *Gossip) emit(ctx context.Context, evt actor.Event) {
	select {
	case g.events <- evt:
	case <-ctx.Done():
	}
}

func (g *Gossip) Recv(ctx context.Context) (actor.Event, error) {
	select {
	case evt, ok := <-g.events:
		if !ok {
			return nil, nil
		}
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gossip) SetValue(ctx context.Context, value int) error {
	g.publish(ctx, wireMsg{Kind: "ping", Node: g.name, Value: value})
	return nil
}

func (g *Gossip) Enable(_ context.Context, n int) error {
	g.mu.Lock()
	g.enabled = true
	g.quorum = n
	g.mu.Unlock()
	return nil
}

func (g *Gossip) Disable(_ context.Context, n int) error {
	g.mu.Lock()
	g.enabled = false
	g.quorum = n
	g.mu.Unlock()
	return nil
}

func (g *Gossip) CycleTimeMax() time.Duration { return g.cfg.CycleTime }
func (g *Gossip) HistorySize() int            { return g.cfg.HistorySize }

func (g *Gossip) Close() error {
	g.stopOnce.Do(func() {
		g.cancel()
		close(g.events)
	})
	return g.rdb.Close()
}
