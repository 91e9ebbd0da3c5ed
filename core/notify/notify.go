/*Package notify dispatches resource change notifications.

A Dispatcher implements core.Notifier. It queues events and resolves their recipients in a
pool of workers, so notifying never blocks or fails the request which committed the change.
Recipients are the app members named by the notification hook of the action plus the members who
subscribed to the resource type or to single resources. Messages are handed to one or
more senders; delivery failures are logged.
*/
package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/logger"
	"github.com/relabs-tech/tenantkit/core/metrics"
)

// RecipientAuthor addresses the authors of the changed resources in a notification hook
const RecipientAuthor = "$author"

// Message is what senders deliver
type Message struct {
	AppID       int64       `json:"appId"`
	Type        string      `json:"type"`
	Action      core.Action `json:"action"`
	ResourceIDs []int64     `json:"resourceIds"`
	Recipients  []uuid.UUID `json:"recipients"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Sender delivers messages to an external system
type Sender interface {
	Name() string
	Send(ctx context.Context, message Message) error
}

// MemberLookup resolves app roles to member ids
type MemberLookup interface {
	MembersWithRoles(ctx context.Context, appID int64, roles []string) ([]uuid.UUID, error)
}

// SubscriberLookup resolves the members subscribed to changes
type SubscriberLookup interface {
	Subscribers(ctx context.Context, appID int64, resourceType string, action core.Action, resourceIDs []int64) ([]uuid.UUID, error)
	Forget(ctx context.Context, appID int64, resourceType string, resourceIDs []int64) error
}

type job struct {
	ctx   context.Context
	event core.Event
}

type queued struct {
	logData []byte
	event   core.Event
}

// Dispatcher is an asynchronous core.Notifier
type Dispatcher struct {
	members     MemberLookup
	subscribers SubscriberLookup
	senders     []Sender
	jobs        chan queued
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// Configuration holds the parameters of a Dispatcher
type Configuration struct {
	Workers     int
	QueueLength int
}

// NewDispatcher starts a dispatcher with the configured number of workers. subscribers
// may be nil.
func NewDispatcher(c Configuration, members MemberLookup, subscribers SubscriberLookup, senders ...Sender) *Dispatcher {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueLength <= 0 {
		c.QueueLength = 100
	}
	d := &Dispatcher{
		members:     members,
		subscribers: subscribers,
		senders:     senders,
		jobs:        make(chan queued, c.QueueLength),
	}
	d.wg.Add(c.Workers)
	for i := 0; i < c.Workers; i++ {
		go d.worker()
	}
	return d
}

// Notify queues event for dispatch. Events are dropped when the queue is full.
func (d *Dispatcher) Notify(ctx context.Context, event core.Event) {
	// the request context ends with the response, workers only keep its request id
	select {
	case d.jobs <- queued{logData: logger.SerializeLoggerContext(ctx), event: event}:
		metrics.NotificationQueue.Inc()
	default:
		metrics.Notifications.WithLabelValues("dispatcher", "dropped").Inc()
		logger.FromContext(ctx).Errorf("Error 4800: notification queue full, dropping %s of %s %v",
			event.Action, event.Type, event.ResourceIDs)
	}
}

// Close stops accepting events and waits until all queued events are dispatched
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for q := range d.jobs {
		metrics.NotificationQueue.Dec()
		j := job{ctx: logger.ContextWithLoggerFromData(context.Background(), q.logData), event: q.event}
		if err := callWithPanicEnvelope(d.dispatch, j); err != nil {
			logger.FromContext(j.ctx).WithError(err).Errorf("Error 4801: cannot dispatch %s of %s %v",
				j.event.Action, j.event.Type, j.event.ResourceIDs)
		}
	}
}

func callWithPanicEnvelope(callback func(job) error, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	err = callback(j)
	return
}

func (d *Dispatcher) dispatch(j job) error {
	ctx, event := j.ctx, j.event
	recipients, err := d.recipients(ctx, event)
	if err != nil {
		return err
	}
	if event.Action == core.ActionDelete && d.subscribers != nil {
		if err := d.subscribers.Forget(ctx, event.AppID, event.Type, event.ResourceIDs); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot remove subscriptions of deleted resources")
		}
	}
	if len(recipients) == 0 {
		logger.FromContext(ctx).Debugf("no recipients for %s of %s %v", event.Action, event.Type, event.ResourceIDs)
		return nil
	}
	message := Message{
		AppID:       event.AppID,
		Type:        event.Type,
		Action:      event.Action,
		ResourceIDs: event.ResourceIDs,
		Recipients:  recipients,
		Timestamp:   time.Now().UTC(),
	}
	return d.send(ctx, message)
}

// recipients returns the sorted unique member ids to notify about event
func (d *Dispatcher) recipients(ctx context.Context, event core.Event) ([]uuid.UUID, error) {
	set := map[uuid.UUID]bool{}
	var roles []string
	for _, to := range event.Recipients {
		if to == RecipientAuthor {
			for _, id := range event.AuthorIDs {
				set[id] = true
			}
			continue
		}
		roles = append(roles, to)
	}
	if len(roles) > 0 {
		users, err := d.members.MembersWithRoles(ctx, event.AppID, roles)
		if err != nil {
			return nil, err
		}
		for _, id := range users {
			set[id] = true
		}
	}
	if event.Subscribable && d.subscribers != nil {
		users, err := d.subscribers.Subscribers(ctx, event.AppID, event.Type, event.Action, event.ResourceIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range users {
			set[id] = true
		}
	}
	recipients := make([]uuid.UUID, 0, len(set))
	for id := range set {
		recipients = append(recipients, id)
	}
	slices.SortFunc(recipients, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return recipients, nil
}

// send hands message to all senders concurrently and combines their errors
func (d *Dispatcher) send(ctx context.Context, message Message) error {
	errs := make([]error, len(d.senders))
	var g errgroup.Group
	for i, sender := range d.senders {
		i, sender := i, sender
		g.Go(func() error {
			err := safeSend(ctx, sender, message)
			result := "ok"
			if err != nil {
				result = "error"
				errs[i] = fmt.Errorf("%s: %w", sender.Name(), err)
			}
			metrics.Notifications.WithLabelValues(sender.Name(), result).Inc()
			return nil
		})
	}
	g.Wait()
	return multierr.Combine(errs...)
}

func safeSend(ctx context.Context, sender Sender, message Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %s", r)
		}
	}()
	return sender.Send(ctx, message)
}
