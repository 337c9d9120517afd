// Package dispatch fans one event out to every subscription whose
// preferences admit it.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/realpolitik/push-relay/pkg/event"
	"github.com/realpolitik/push-relay/pkg/registry"
	"github.com/realpolitik/push-relay/pkg/rules"
	"github.com/realpolitik/push-relay/pkg/webpush"
)

// DefaultWorkers bounds concurrent outbound pushes; it protects the push
// gateway and keeps registry connections in check.
const DefaultWorkers = 16

// Status is the per-(event, subscription) delivery outcome.
type Status string

const (
	StatusSent                 Status = "sent"
	StatusSuppressedByRule     Status = "suppressed-by-rule"
	StatusSuppressedQuietHours Status = "suppressed-by-quiet-hours"
	StatusFailedRetryable      Status = "failed-retryable"
	StatusFailedPermanent      Status = "failed-permanent"
)

// Outcome records what happened for one subscription. Outcomes are
// ephemeral: they feed the summary and the log line, nothing else.
type Outcome struct {
	Endpoint string
	Status   Status
}

// Summary is the aggregate returned to the upstream event source.
type Summary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

// Dispatcher broadcasts events across the registry.
type Dispatcher struct {
	reg     registry.Registry
	sender  webpush.Sender
	dedup   Deduper
	workers int
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. workers <= 0 selects DefaultWorkers.
func NewDispatcher(reg registry.Registry, sender webpush.Sender, dedup Deduper, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if dedup == nil {
		dedup = NewMemoryDeduper()
	}
	return &Dispatcher{
		reg:     reg,
		sender:  sender,
		dedup:   dedup,
		workers: workers,
		now:     time.Now,
	}
}

// Dispatch evaluates every subscription against the event, sends to the
// admitted ones concurrently, and prunes endpoints the gateway reports gone.
// Per-subscription failures never abort the batch; the error return is
// reserved for the registry being unreadable.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event) (Summary, error) {
	subs, err := d.reg.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	var (
		mu              sync.Mutex
		summary         Summary
		suppressedRule  int
		suppressedQuiet int
		deduped         int
	)

	jobs := make(chan *registry.Subscription)
	var wg sync.WaitGroup
	workers := d.workers
	if workers > len(subs) {
		workers = len(subs)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				outcome := d.deliver(ctx, ev, sub)
				mu.Lock()
				switch outcome.Status {
				case StatusSent:
					summary.Sent++
				case StatusSuppressedByRule:
					suppressedRule++
				case StatusSuppressedQuietHours:
					suppressedQuiet++
				case StatusFailedPermanent:
					summary.Removed++
				case StatusFailedRetryable:
					summary.Failed++
				default:
					deduped++
				}
				mu.Unlock()
			}
		}()
	}

	for _, sub := range subs {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()

	log.Printf("[DISPATCH] event=%s sent=%d failed=%d removed=%d suppressed_rule=%d suppressed_quiet=%d deduped=%d subscriptions=%d",
		ev.ID, summary.Sent, summary.Failed, summary.Removed, suppressedRule, suppressedQuiet, deduped, len(subs))

	return summary, nil
}

// statusSkipped marks a subscription skipped by deduplication; it is not a
// wire status.
const statusSkipped Status = "skipped-duplicate"

func (d *Dispatcher) deliver(ctx context.Context, ev *event.Event, sub *registry.Subscription) Outcome {
	admit, decision := rules.Admit(ev, &sub.Preferences, d.now())
	if !admit {
		if decision == rules.DecisionSuppressedQuietHours {
			return Outcome{Endpoint: sub.Endpoint, Status: StatusSuppressedQuietHours}
		}
		return Outcome{Endpoint: sub.Endpoint, Status: StatusSuppressedByRule}
	}

	seen, err := d.dedup.MarkSeen(ctx, ev.ID, sub.Endpoint)
	if err != nil {
		// Dedup is best effort; the stable tag still collapses duplicates
		// on the device.
		log.Printf("[DISPATCH] dedup check failed for %s: %v", sub.ID, err)
	} else if seen {
		return Outcome{Endpoint: sub.Endpoint, Status: statusSkipped}
	}

	if err := d.sender.Send(ctx, sub, ev); err != nil {
		if webpush.IsPermanent(err) {
			return d.prune(ctx, sub, err)
		}
		log.Printf("[DISPATCH] transient failure for %s: %v", sub.ID, err)
		return Outcome{Endpoint: sub.Endpoint, Status: StatusFailedRetryable}
	}
	return Outcome{Endpoint: sub.Endpoint, Status: StatusSent}
}

// prune removes a subscription the gateway reported gone. This is the
// primary pruning mechanism; client-initiated rotation is the other.
func (d *Dispatcher) prune(ctx context.Context, sub *registry.Subscription, cause error) Outcome {
	log.Printf("[DISPATCH] pruning dead endpoint for %s: %v", sub.ID, cause)
	if err := d.reg.Delete(ctx, sub.Endpoint); err != nil && err != registry.ErrNotFound {
		log.Printf("[DISPATCH] failed to prune %s: %v", sub.ID, err)
		return Outcome{Endpoint: sub.Endpoint, Status: StatusFailedRetryable}
	}
	return Outcome{Endpoint: sub.Endpoint, Status: StatusFailedPermanent}
}
