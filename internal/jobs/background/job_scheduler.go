package background

import (
	"context"
	"log"
	"sync"
	"time"

	"studyhub/internal/billing"
	"studyhub/internal/repositories"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// SweepConfig tunes the recurring billing sweep.
type SweepConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Renewer is the slice of the billing service the sweep needs.
type Renewer interface {
	Renew(ctx context.Context, subscriptionID uuid.UUID) error
}

// JobScheduler drives recurring billing: on every tick it lists the
// subscriptions whose next billing instant has passed and renews each one.
// Singleton mode keeps a slow sweep from overlapping with the next tick.
type JobScheduler struct {
	scheduler        gocron.Scheduler
	billingSvc       Renewer
	subscriptionRepo repositories.SubscriptionRepository
	clock            billing.Clock
	cfg              SweepConfig
}

func NewJobScheduler(billingSvc Renewer, subscriptionRepo repositories.SubscriptionRepository, clock billing.Clock, cfg SweepConfig) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	js := &JobScheduler{
		scheduler:        scheduler,
		billingSvc:       billingSvc,
		subscriptionRepo: subscriptionRepo,
		clock:            clock,
		cfg:              cfg,
	}

	if err := js.registerJobs(); err != nil {
		return nil, err
	}
	return js, nil
}

func (js *JobScheduler) Start() {
	log.Printf("Starting billing scheduler (sweep every %s)", js.cfg.Interval)
	js.scheduler.Start()
}

func (js *JobScheduler) Stop() error {
	log.Printf("Stopping billing scheduler")
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs() error {
	_, err := js.scheduler.NewJob(
		gocron.DurationJob(js.cfg.Interval),
		gocron.NewTask(js.RunBillingSweep, context.Background()),
		gocron.WithName("billing-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return err
}

// RunBillingSweep renews every due subscription. Attempts run in parallel
// with bounded concurrency; each attempt is independent, so one failure
// never blocks the rest of the batch.
func (js *JobScheduler) RunBillingSweep(ctx context.Context) error {
	now := js.clock.Now()
	due, err := js.subscriptionRepo.ListDueForBilling(ctx, now, js.cfg.BatchSize)
	if err != nil {
		log.Printf("Billing sweep failed to list due subscriptions: %v", err)
		return err
	}
	if len(due) == 0 {
		return nil
	}

	log.Printf("Billing sweep charging %d due subscriptions", len(due))

	semaphore := make(chan struct{}, js.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, sub := range due {
		wg.Add(1)
		go func(subscriptionID uuid.UUID) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := js.billingSvc.Renew(ctx, subscriptionID); err != nil {
				log.Printf("Failed to renew subscription %s: %v", subscriptionID.String(), err)
			}
		}(sub.ID)
	}

	wg.Wait()
	log.Printf("Billing sweep completed for %d subscriptions", len(due))
	return nil
}
