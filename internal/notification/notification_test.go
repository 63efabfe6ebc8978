package notification

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/migration"
	"github.com/tphakala/migration-assistant/internal/migration/stage"
)

type fakeSender struct {
	name    string
	errOnly bool
	err     error

	mu     sync.Mutex
	events []Event
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) Accepts(ev Event) bool { return !s.errOnly || ev.IsError }

func (s *fakeSender) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSender) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type delivery struct {
	channel string
	err     error
}

type recordingDeliveries struct {
	mu  sync.Mutex
	got []delivery
}

func (r *recordingDeliveries) RecordDelivery(channel string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivery{channel: channel, err: err})
}

var eventTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func transition(from, to stage.Stage, msg string) migration.TransitionEvent {
	return migration.TransitionEvent{MigrationID: 7, From: from, To: to, Message: msg, At: eventTime}
}

func TestEventFromTransition(t *testing.T) {
	ev := EventFromTransition(transition(stage.FinalSyncWait, stage.FinalSyncError, "timed out"))

	assert.Equal(t, uint(7), ev.MigrationID)
	assert.Equal(t, "final_sync_wait", ev.From)
	assert.Equal(t, "final_sync_error", ev.To)
	assert.True(t, ev.IsError)
	assert.Equal(t, "Migration 7 failed", ev.Title())
	assert.Contains(t, ev.Body(), "timed out")

	ok := EventFromTransition(transition(stage.FinalSyncWait, stage.Validate, ""))
	assert.False(t, ok.IsError)
	assert.Equal(t, "Migration 7 moved to validate", ok.Title())
}

func TestDispatcher_DeliversToAcceptingSenders(t *testing.T) {
	all := &fakeSender{name: "mqtt"}
	errorsOnly := &fakeSender{name: "shoutrrr", errOnly: true}
	deliveries := &recordingDeliveries{}

	d := NewDispatcher([]Sender{all, errorsOnly}, WithDeliveryMetrics(deliveries))
	d.Start(context.Background())

	d.OnStageTransition(context.Background(), transition(stage.FSMigrationCopy, stage.FSMigrationCopyWait, ""))
	d.OnStageTransition(context.Background(), transition(stage.FSMigrationCopyWait, stage.Error, "disk gone"))
	d.Stop()

	got := all.received()
	require.Len(t, got, 2)
	assert.Equal(t, "fs_migration_copy_wait", got[0].To)
	assert.Equal(t, "error", got[1].To)

	alerts := errorsOnly.received()
	require.Len(t, alerts, 1)
	assert.Equal(t, "disk gone", alerts[0].Message)

	assert.Len(t, deliveries.got, 3)
	assert.Zero(t, d.Dropped())
}

func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	sender := &fakeSender{name: "mqtt"}
	d := NewDispatcher([]Sender{sender}, WithBufferSize(1))

	d.OnStageTransition(context.Background(), transition(stage.NotStarted, stage.Authentication, ""))
	d.OnStageTransition(context.Background(), transition(stage.Authentication, stage.ProvisionApplication, ""))

	assert.Equal(t, int64(1), d.Dropped())

	d.Start(context.Background())
	d.Stop()
	require.Len(t, sender.received(), 1)
	assert.Equal(t, "authentication", sender.received()[0].To)
}

func TestDispatcher_RecordsFailedDelivery(t *testing.T) {
	boom := errors.NewStd("broker down")
	sender := &fakeSender{name: "mqtt", err: boom}
	deliveries := &recordingDeliveries{}

	d := NewDispatcher([]Sender{sender}, WithDeliveryMetrics(deliveries))
	d.Start(context.Background())
	d.OnStageTransition(context.Background(), transition(stage.Validate, stage.Finished, ""))
	d.Stop()

	require.Len(t, deliveries.got, 1)
	assert.Equal(t, "mqtt", deliveries.got[0].channel)
	assert.ErrorIs(t, deliveries.got[0].err, boom)
}

func TestDispatcher_NoSendersIgnoresEvents(t *testing.T) {
	d := NewDispatcher(nil, WithBufferSize(1))
	d.OnStageTransition(context.Background(), transition(stage.NotStarted, stage.Authentication, ""))
	d.OnStageTransition(context.Background(), transition(stage.Authentication, stage.ProvisionApplication, ""))
	assert.Zero(t, d.Dropped())
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := eventTime
	cb := NewCircuitBreaker("mqtt", CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxRequests: 1})
	cb.now = func() time.Time { return now }

	boom := errors.NewStd("boom")
	fail := func(context.Context) error { return boom }
	succeed := func(context.Context) error { return nil }
	ctx := context.Background()

	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := eventTime
	cb := NewCircuitBreaker("shoutrrr", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second, HalfOpenMaxRequests: 1})
	cb.now = func() time.Time { return now }
	boom := errors.NewStd("boom")
	ctx := context.Background()

	require.Error(t, cb.Call(ctx, func(context.Context) error { return boom }))
	now = now.Add(2 * time.Second)
	require.Error(t, cb.Call(ctx, func(context.Context) error { return boom }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("mqtt", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute})
	err := cb.Call(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestShoutrrrNotifier_Send(t *testing.T) {
	var gotBody, gotTitle string
	n := &ShoutrrrNotifier{
		urls: []string{"generic://example.invalid"},
		send: func(message string, params *stypes.Params) []error {
			gotBody = message
			gotTitle = (*params)["title"]
			return []error{nil}
		},
	}

	ev := EventFromTransition(transition(stage.FinalSyncWait, stage.FinalSyncError, "queue stuck"))
	require.True(t, n.Accepts(ev))
	require.NoError(t, n.Send(context.Background(), ev))
	assert.Equal(t, "Migration 7 failed", gotTitle)
	assert.Contains(t, gotBody, "queue stuck")

	assert.False(t, n.Accepts(EventFromTransition(transition(stage.FinalSyncWait, stage.Validate, ""))))
}

func TestShoutrrrNotifier_SendError(t *testing.T) {
	n := &ShoutrrrNotifier{
		urls: []string{"generic://token@example.invalid"},
		send: func(string, *stypes.Params) []error {
			return []error{errors.NewStd("post generic://token@example.invalid failed")}
		},
	}
	err := n.Send(context.Background(), Event{IsError: true})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "token")
}

func TestNewShoutrrrNotifier_RequiresURL(t *testing.T) {
	_, err := NewShoutrrrNotifier(nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []publishCall
	disconnected bool
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return completedToken(nil)
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeMQTTClient) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, publishCall{topic: topic, retained: retained, payload: payload.([]byte)})
	return completedToken(nil)
}

type connectionStates struct {
	mu     sync.Mutex
	states []bool
}

func (c *connectionStates) UpdateConnectionStatus(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, connected)
}

func TestNewMQTTPublisher_Validation(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{Topic: "migration/stage"}, nil)
	require.Error(t, err)

	_, err = NewMQTTPublisher(MQTTConfig{Broker: "tcp://localhost:1883"}, nil)
	require.Error(t, err)

	p, err := NewMQTTPublisher(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "migration/stage"}, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^migration-assistant-[0-9a-f]{8}$`, p.config.ClientID)
}

func TestMQTTPublisher_SendNotConnected(t *testing.T) {
	p, err := NewMQTTPublisher(MQTTConfig{Broker: "tcp://localhost:1883", Topic: "migration/stage"}, nil)
	require.NoError(t, err)

	err = p.Send(context.Background(), Event{To: "validate"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestMQTTPublisher_ConnectPublishClose(t *testing.T) {
	states := &connectionStates{}
	p, err := NewMQTTPublisher(MQTTConfig{
		Broker: "tcp://localhost:1883",
		Topic:  "migration/stage",
		Retain: true,
	}, states)
	require.NoError(t, err)

	client := &fakeMQTTClient{}
	p.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

	require.NoError(t, p.Connect(context.Background()))

	ev := EventFromTransition(transition(stage.FinalSyncWait, stage.Validate, ""))
	require.NoError(t, p.Send(context.Background(), ev))

	require.Len(t, client.published, 1)
	assert.Equal(t, "migration/stage", client.published[0].topic)
	assert.True(t, client.published[0].retained)

	var decoded Event
	require.NoError(t, json.Unmarshal(client.published[0].payload, &decoded))
	assert.Equal(t, "validate", decoded.To)
	assert.Equal(t, uint(7), decoded.MigrationID)

	p.Close()
	assert.True(t, client.disconnected)
	assert.Equal(t, []bool{true, false}, states.states)
}

func TestDispatcher_IgnoresEventsAfterStop(t *testing.T) {
	sender := &fakeSender{name: "mqtt"}
	d := NewDispatcher([]Sender{sender})
	d.Start(context.Background())
	d.Stop()

	assert.NotPanics(t, func() {
		d.OnStageTransition(context.Background(), transition(stage.Validate, stage.Finished, ""))
	})
	assert.Empty(t, sender.received())
}
