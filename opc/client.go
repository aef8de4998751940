package opc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// ClientConfig holds the wire-level settings for one server connection.
type ClientConfig struct {
	Endpoint       string // e.g. "opc.tcp://host:4840"
	SecurityPolicy string // "None", "Basic256Sha256", ... empty selects None
	SecurityMode   string // "None", "Sign", "SignAndEncrypt"
	Username       string // empty for anonymous identity
	Password       string
}

// client implements Conn over gopcua.
type client struct {
	cfg ClientConfig

	mu         sync.Mutex
	c          *opcua.Client
	forwarders []context.CancelFunc
}

// NewClient creates a gopcua-backed connection. No I/O happens until
// Connect is called.
func NewClient(cfg ClientConfig) Conn {
	return &client{cfg: cfg}
}

func (g *client) Connect(ctx context.Context) error {
	policy := g.cfg.SecurityPolicy
	if policy == "" {
		policy = "None"
	}
	mode := securityMode(g.cfg.SecurityMode)

	endpoints, err := opcua.GetEndpoints(ctx, g.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("get endpoints: %w", err)
	}
	ep := opcua.SelectEndpoint(endpoints, policy, mode)
	if ep == nil {
		return fmt.Errorf("select endpoint: no endpoint matches policy %q mode %q", policy, mode)
	}

	opts := []opcua.Option{
		opcua.SecurityPolicy(policy),
		opcua.SecurityMode(mode),
	}
	if g.cfg.Username != "" {
		opts = append(opts,
			opcua.AuthUsername(g.cfg.Username, g.cfg.Password),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeUserName))
	} else {
		opts = append(opts,
			opcua.AuthAnonymous(),
			opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeAnonymous))
	}

	c, err := opcua.NewClient(g.cfg.Endpoint, opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}

	g.adopt(ctx, c)
	return nil
}

// adopt installs a freshly connected client. A reconnect supersedes any
// previous session, so the replaced client is closed best-effort and its
// forwarder goroutines are cancelled.
func (g *client) adopt(ctx context.Context, c *opcua.Client) {
	g.mu.Lock()
	prev := g.c
	stale := g.forwarders
	g.c = c
	g.forwarders = nil
	g.mu.Unlock()

	for _, cancel := range stale {
		cancel()
	}
	if prev != nil {
		_ = prev.Close(ctx)
	}
}

func (g *client) Close(ctx context.Context) error {
	g.mu.Lock()
	c := g.c
	g.c = nil
	forwarders := g.forwarders
	g.forwarders = nil
	g.mu.Unlock()

	for _, cancel := range forwarders {
		cancel()
	}
	if c == nil {
		return nil
	}
	return c.Close(ctx)
}

func (g *client) active() (*opcua.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.c == nil {
		return nil, fmt.Errorf("not connected")
	}
	return g.c, nil
}

// Browse walks the hierarchy below the objects folder, breadth-first.
func (g *client) Browse(ctx context.Context) ([]Reference, error) {
	c, err := g.active()
	if err != nil {
		return nil, err
	}

	var refs []Reference
	visited := make(map[string]bool)
	queue := []*ua.NodeID{ua.NewNumericNodeID(0, id.ObjectsFolder)}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node.String()] {
			continue
		}
		visited[node.String()] = true

		resp, err := c.Browse(ctx, &ua.BrowseRequest{
			NodesToBrowse: []*ua.BrowseDescription{{
				NodeID:          node,
				BrowseDirection: ua.BrowseDirectionForward,
				ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
				IncludeSubtypes: true,
				NodeClassMask:   uint32(ua.NodeClassAll),
				ResultMask:      uint32(ua.BrowseResultMaskAll),
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("browse %s: %w", node, err)
		}

		for _, result := range resp.Results {
			if result.StatusCode != ua.StatusOK {
				continue
			}
			for _, rd := range result.References {
				if rd.NodeID == nil || rd.NodeID.NodeID == nil {
					continue
				}
				child := rd.NodeID.NodeID
				key := child.String()
				if visited[key] {
					continue
				}
				refs = append(refs, Reference{
					NodeID:      key,
					BrowseName:  rd.BrowseName.Name,
					DisplayName: rd.DisplayName.Text,
					Class:       nodeClass(rd.NodeClass),
				})
				if rd.NodeClass == ua.NodeClassObject {
					queue = append(queue, child)
				}
			}
		}
	}
	return refs, nil
}

// uaSubscription adapts a gopcua subscription to the Subscription interface.
type uaSubscription struct {
	sub    *opcua.Subscription
	cancel context.CancelFunc
}

func (s *uaSubscription) Monitor(ctx context.Context, nodeID string, handle uint32) error {
	nid, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", nodeID, err)
	}
	req := opcua.NewMonitoredItemCreateRequestWithDefaults(nid, ua.AttributeIDValue, handle)
	resp, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
	if err != nil {
		return err
	}
	for _, result := range resp.Results {
		if result.StatusCode != ua.StatusOK {
			return fmt.Errorf("monitored item rejected: %s", result.StatusCode)
		}
	}
	return nil
}

func (s *uaSubscription) Cancel(ctx context.Context) error {
	s.cancel()
	return s.sub.Cancel(ctx)
}

func (g *client) Subscribe(ctx context.Context, interval time.Duration, notify chan<- Notification) (Subscription, error) {
	c, err := g.active()
	if err != nil {
		return nil, err
	}

	pubCh := make(chan *opcua.PublishNotificationData, 64)
	sub, err := c.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: interval}, pubCh)
	if err != nil {
		return nil, err
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.forwarders = append(g.forwarders, cancel)
	g.mu.Unlock()

	go forward(fwdCtx, pubCh, notify)
	return &uaSubscription{sub: sub, cancel: cancel}, nil
}

// forward converts publish notifications into the session's sample stream.
func forward(ctx context.Context, in <-chan *opcua.PublishNotificationData, out chan<- Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-in:
			if data == nil || data.Error != nil {
				continue
			}
			dcn, ok := data.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, item := range dcn.MonitoredItems {
				if item.Value == nil || item.Value.Value == nil {
					continue
				}
				n := Notification{
					Handle:     item.ClientHandle,
					Value:      item.Value.Value.Value(),
					SourceTime: item.Value.SourceTimestamp,
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (g *client) Read(ctx context.Context, nodeID string) (interface{}, error) {
	c, err := g.active()
	if err != nil {
		return nil, err
	}
	nid, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", nodeID, err)
	}

	resp, err := c.Read(ctx, &ua.ReadRequest{
		NodesToRead:        []*ua.ReadValueID{{NodeID: nid, AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 || resp.Results[0].Status != ua.StatusOK {
		return nil, fmt.Errorf("read %s: bad status", nodeID)
	}
	if resp.Results[0].Value == nil {
		return nil, nil
	}
	return resp.Results[0].Value.Value(), nil
}

func (g *client) Write(ctx context.Context, nodeID string, value interface{}) error {
	c, err := g.active()
	if err != nil {
		return err
	}
	nid, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", nodeID, err)
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	resp, err := c.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      nid,
			AttributeID: ua.AttributeIDValue,
			Value:       &ua.DataValue{EncodingMask: ua.DataValueValue, Value: variant},
		}},
	})
	if err != nil {
		return err
	}
	if len(resp.Results) == 0 || resp.Results[0] != ua.StatusOK {
		return fmt.Errorf("write %s: rejected by server", nodeID)
	}
	return nil
}

func (g *client) Call(ctx context.Context, objectID, methodID string, args ...interface{}) ([]interface{}, error) {
	c, err := g.active()
	if err != nil {
		return nil, err
	}
	objID, err := ua.ParseNodeID(objectID)
	if err != nil {
		return nil, fmt.Errorf("parse object id %q: %w", objectID, err)
	}
	methID, err := ua.ParseNodeID(methodID)
	if err != nil {
		return nil, fmt.Errorf("parse method id %q: %w", methodID, err)
	}

	inputs := make([]*ua.Variant, 0, len(args))
	for _, arg := range args {
		v, err := ua.NewVariant(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument: %w", err)
		}
		inputs = append(inputs, v)
	}

	result, err := c.Call(ctx, &ua.CallMethodRequest{
		ObjectID:       objID,
		MethodID:       methID,
		InputArguments: inputs,
	})
	if err != nil {
		return nil, err
	}
	if result.StatusCode != ua.StatusOK {
		return nil, fmt.Errorf("call %s: %s", methodID, result.StatusCode)
	}

	outputs := make([]interface{}, 0, len(result.OutputArguments))
	for _, out := range result.OutputArguments {
		outputs = append(outputs, out.Value())
	}
	return outputs, nil
}

func securityMode(s string) ua.MessageSecurityMode {
	switch s {
	case "Sign":
		return ua.MessageSecurityModeSign
	case "SignAndEncrypt":
		return ua.MessageSecurityModeSignAndEncrypt
	default:
		return ua.MessageSecurityModeNone
	}
}

func nodeClass(c ua.NodeClass) NodeClass {
	switch c {
	case ua.NodeClassObject:
		return ClassObject
	case ua.NodeClassVariable:
		return ClassVariable
	case ua.NodeClassMethod:
		return ClassMethod
	default:
		return ClassUnspecified
	}
}
