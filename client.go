package flagkit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/bucketer"
	"github.com/dmitrymomot/flagkit/pkg/cmab"
	"github.com/dmitrymomot/flagkit/pkg/config"
	"github.com/dmitrymomot/flagkit/pkg/datafile"
	"github.com/dmitrymomot/flagkit/pkg/decision"
	"github.com/dmitrymomot/flagkit/pkg/dispatcher"
	"github.com/dmitrymomot/flagkit/pkg/event"
	"github.com/dmitrymomot/flagkit/pkg/redis"
	"github.com/dmitrymomot/flagkit/pkg/userprofile"
)

// Decision is the outcome of resolving one feature flag for a user.
type Decision struct {
	FlagKey      string
	VariationKey string
	RuleKey      string
	Enabled      bool
	// Reasons holds evaluation notes; populated only when the decide call
	// asked for them.
	Reasons []string
}

// Client is the SDK entry point: it holds the current project config
// snapshot and wires the decision service to the event pipeline.
type Client struct {
	holder    *datafile.Holder
	poller    *datafile.Poller
	decisions *decision.Service
	builder   *event.Builder
	events    *dispatcher.Dispatcher
	log       *slog.Logger
}

type clientOptions struct {
	log          *slog.Logger
	profiles     userprofile.Service
	cmabService  decision.CmabService
	audience     decision.AudienceEvaluator
	events       *dispatcher.Dispatcher
	pollURL      string
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the client's logger, shared with every component the
// client constructs itself.
func WithLogger(log *slog.Logger) Option {
	return func(o *clientOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithUserProfileService enables sticky bucketing.
func WithUserProfileService(s userprofile.Service) Option {
	return func(o *clientOptions) {
		o.profiles = s
	}
}

// WithCmabService wires the contextual-bandit decision dependency.
func WithCmabService(s decision.CmabService) Option {
	return func(o *clientOptions) {
		o.cmabService = s
	}
}

// WithAudienceEvaluator wires the audience condition evaluator. Without it
// every audience admits every user.
func WithAudienceEvaluator(e decision.AudienceEvaluator) Option {
	return func(o *clientOptions) {
		o.audience = e
	}
}

// WithEventDispatcher replaces the default in-memory event dispatcher.
func WithEventDispatcher(d *dispatcher.Dispatcher) Option {
	return func(o *clientOptions) {
		if d != nil {
			o.events = d
		}
	}
}

// WithPolling keeps the project config fresh by re-downloading the datafile
// from the given URL at the given interval once Start is called.
func WithPolling(url string, interval time.Duration) Option {
	return func(o *clientOptions) {
		o.pollURL = url
		o.pollInterval = interval
	}
}

// New creates a client from raw datafile bytes. A nil datafile is allowed
// when polling is configured; decide calls fail with a not-ready reason
// until the first successful download.
func New(datafileJSON []byte, opts ...Option) (*Client, error) {
	o := &clientOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	holder := datafile.NewHolder(nil)
	if datafileJSON != nil {
		projectConfig, err := datafile.Parse(datafileJSON)
		if err != nil {
			return nil, err
		}
		holder.Store(projectConfig)
	}

	decisionOpts := []decision.ServiceOption{decision.WithLogger(o.log)}
	if o.profiles != nil {
		decisionOpts = append(decisionOpts, decision.WithUserProfileService(o.profiles))
	}
	if o.cmabService != nil {
		decisionOpts = append(decisionOpts, decision.WithCmabService(o.cmabService))
	}
	if o.audience != nil {
		decisionOpts = append(decisionOpts, decision.WithAudienceEvaluator(o.audience))
	}

	events := o.events
	if events == nil {
		events = dispatcher.New(dispatcher.NewMemoryStore(), dispatcher.WithLogger(o.log))
	}

	c := &Client{
		holder:    holder,
		decisions: decision.NewService(bucketer.New(o.log), decisionOpts...),
		builder:   event.NewBuilder(event.WithLogger(o.log)),
		events:    events,
		log:       o.log,
	}

	if o.pollURL != "" {
		c.poller = datafile.NewPoller(o.pollURL, o.pollInterval, func(data []byte) {
			projectConfig, err := datafile.Parse(data)
			if err != nil {
				c.log.Error("discarding invalid datafile update", "error", err)
				return
			}
			c.holder.Store(projectConfig)
			c.log.Info("project config updated", "revision", projectConfig.Project.Revision)
		}, datafile.WithLogger(o.log))
	}

	return c, nil
}

// NewFromEnv builds a fully wired client from environment variables: SDK
// key and polling cadence from ClientConfig, queue backend and batching
// from EventsConfig, bandit endpoint and cache bounds from CmabConfig.
// When the queue is Redis-backed, sticky bucketing shares the same Redis
// connection.
func NewFromEnv(ctx context.Context, opts ...Option) (*Client, error) {
	var clientCfg config.ClientConfig
	if err := config.Load(&clientCfg); err != nil {
		return nil, err
	}
	var eventsCfg config.EventsConfig
	if err := config.Load(&eventsCfg); err != nil {
		return nil, err
	}
	var cmabCfg config.CmabConfig
	if err := config.Load(&cmabCfg); err != nil {
		return nil, err
	}

	o := &clientOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	var store dispatcher.Store
	var profiles userprofile.Service
	switch {
	case eventsCfg.RedisURL != "":
		redisClient, err := redis.Connect(ctx, redis.Config{
			ConnectionURL:  eventsCfg.RedisURL,
			RetryAttempts:  3,
			RetryInterval:  time.Second,
			ConnectTimeout: 30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		store = dispatcher.NewRedisStore(redisClient)
		profiles = userprofile.NewRedisService(redisClient)
	case eventsCfg.QueueFile != "":
		fileStore, err := dispatcher.NewFileStore(eventsCfg.QueueFile)
		if err != nil {
			return nil, err
		}
		store = fileStore
	default:
		store = dispatcher.NewMemoryStore()
	}

	events := dispatcher.New(store,
		dispatcher.WithBatchSize(eventsCfg.BatchSize),
		dispatcher.WithFlushInterval(eventsCfg.FlushInterval),
		dispatcher.WithMaxQueueSize(eventsCfg.MaxQueueSize),
		dispatcher.WithLogger(o.log),
	)

	cmabService := cmab.NewService(
		cmab.NewClient(cmab.WithEndpoint(cmabCfg.Endpoint), cmab.WithLogger(o.log)),
		cmab.WithCacheBounds(cmabCfg.CacheSize, cmabCfg.CacheTimeout),
		cmab.WithServiceLogger(o.log),
	)

	datafileURL := fmt.Sprintf(clientCfg.DatafileURL, clientCfg.SDKKey)
	wired := []Option{
		WithEventDispatcher(events),
		WithCmabService(cmabService),
		WithPolling(datafileURL, clientCfg.PollingInterval),
	}
	if profiles != nil {
		wired = append(wired, WithUserProfileService(profiles))
	}

	return New(nil, append(wired, opts...)...)
}

// Start downloads the initial datafile when polling is configured, then
// launches the background poller and the event flush timer. Safe to skip
// for clients created from static datafile bytes without polling.
func (c *Client) Start(ctx context.Context) error {
	if c.poller != nil {
		data, err := c.poller.Fetch(ctx)
		if err != nil {
			if c.holder.Get() == nil {
				return err
			}
			c.log.Error("initial datafile refresh failed, keeping current config", "error", err)
		} else if projectConfig, parseErr := datafile.Parse(data); parseErr != nil {
			if c.holder.Get() == nil {
				return parseErr
			}
			c.log.Error("initial datafile refresh invalid, keeping current config", "error", parseErr)
		} else {
			c.holder.Store(projectConfig)
		}
		c.poller.Start(ctx)
	}

	c.events.Start(ctx)
	return nil
}

// Close stops background polling and flushes any queued events.
func (c *Client) Close(ctx context.Context) {
	if c.poller != nil {
		c.poller.Stop()
	}
	c.events.Stop(ctx)
}

// CreateUserContext binds a user id and attributes to this client for
// fluent decide calls.
func (c *Client) CreateUserContext(userID string, attributes map[string]any) *UserContext {
	return newUserContext(c, userID, attributes)
}

// Activate resolves a user against a single experiment and records an
// impression for the assignment. An empty variation key with nil error
// means the user got no assignment.
func (c *Client) Activate(ctx context.Context, experimentKey, userID string, attributes map[string]any) (string, error) {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return "", ErrClientNotReady
	}
	experiment := projectConfig.ExperimentByKey(experimentKey)
	if experiment == nil {
		return "", fmt.Errorf("%w: %q", ErrExperimentNotFound, experimentKey)
	}

	d := c.decisions.GetVariation(ctx, projectConfig, experiment, userID, attributes, decision.Options{}, nil)
	if d.Variation == nil {
		return "", nil
	}

	metadata := event.DecisionMetadata{
		RuleType:     "experiment",
		RuleKey:      experiment.Key,
		VariationKey: d.Variation.Key,
		Enabled:      d.Variation.IsFeatureEnabled(),
		CmabUUID:     d.CmabUUID,
	}
	c.sendImpression(ctx, projectConfig, experiment, d.Variation, userID, attributes, metadata)

	return d.Variation.Key, nil
}

// GetVariation resolves a user against a single experiment without
// recording an impression.
func (c *Client) GetVariation(ctx context.Context, experimentKey, userID string, attributes map[string]any) (string, error) {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return "", ErrClientNotReady
	}
	experiment := projectConfig.ExperimentByKey(experimentKey)
	if experiment == nil {
		return "", fmt.Errorf("%w: %q", ErrExperimentNotFound, experimentKey)
	}

	d := c.decisions.GetVariation(ctx, projectConfig, experiment, userID, attributes, decision.Options{}, nil)
	if d.Variation == nil {
		return "", nil
	}
	return d.Variation.Key, nil
}

// IsFeatureEnabled reports whether a flag is on for a user. The impression
// event is recorded the same way Decide records it.
func (c *Client) IsFeatureEnabled(ctx context.Context, flagKey, userID string, attributes map[string]any) (bool, error) {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return false, ErrClientNotReady
	}
	if projectConfig.FeatureFlagByKey(flagKey) == nil {
		return false, fmt.Errorf("%w: %q", ErrFlagNotFound, flagKey)
	}

	d := c.decide(ctx, flagKey, userID, attributes, decision.Options{})
	return d.Enabled, nil
}

// Track records a conversion event for the user. Unknown event keys fail
// with event.ErrUnknownEvent.
func (c *Client) Track(ctx context.Context, eventKey, userID string, attributes, tags map[string]any) error {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return ErrClientNotReady
	}

	conversion, err := c.builder.CreateConversionEvent(projectConfig, eventKey, userID, attributes, tags)
	if err != nil {
		return err
	}
	if err := c.events.DispatchEvent(ctx, conversion); err != nil {
		return err
	}
	c.log.Debug("conversion tracked", "eventKey", eventKey, "userId", userID)
	return nil
}

// SetForcedVariation pins a user to a variation of an experiment through
// the config-level override map. An empty variation key clears the pin.
// Returns false when the experiment or variation is unknown.
func (c *Client) SetForcedVariation(experimentKey, userID, variationKey string) bool {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return false
	}
	return c.decisions.SetForcedVariation(projectConfig, experimentKey, userID, variationKey)
}

// GetForcedVariation returns the pinned variation key for a user and
// experiment, or empty.
func (c *Client) GetForcedVariation(experimentKey, userID string) string {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return ""
	}
	if variation := c.decisions.GetForcedVariation(projectConfig, experimentKey, userID); variation != nil {
		return variation.Key
	}
	return ""
}

// decide runs the flag pipeline and records the impression unless the
// options suppress it. It always returns a well-formed decision.
func (c *Client) decide(ctx context.Context, flagKey, userID string, attributes map[string]any, opts decision.Options) (result Decision) {
	reasons := decision.NewReasons()

	result = Decision{FlagKey: flagKey}
	defer func() {
		if opts.IncludeReasons {
			result.Reasons = reasons.Items()
		}
	}()

	projectConfig := c.holder.Get()
	if projectConfig == nil {
		reasons.AddInfo("no project config available yet")
		return result
	}
	flag := projectConfig.FeatureFlagByKey(flagKey)
	if flag == nil {
		c.log.Error("unknown feature flag", "flagKey", flagKey)
		reasons.AddInfo("feature flag %q not found", flagKey)
		return result
	}

	d := c.decisions.GetVariationForFeature(ctx, projectConfig, flag, userID, attributes, opts, reasons)
	result.VariationKey = d.VariationKey()
	result.RuleKey = d.RuleKey()
	result.Enabled = d.Enabled()

	if !opts.DisableDecisionEvent && d.Variation != nil {
		experiment := d.Experiment
		if d.Holdout != nil {
			experiment = &datafile.Experiment{ID: d.Holdout.ID, Key: d.Holdout.Key}
		}
		if experiment != nil {
			metadata := event.DecisionMetadata{
				RuleType:     d.Source,
				RuleKey:      d.RuleKey(),
				FlagKey:      flag.Key,
				VariationKey: d.VariationKey(),
				Enabled:      d.Enabled(),
				CmabUUID:     d.CmabUUID,
			}
			c.sendImpression(ctx, projectConfig, experiment, d.Variation, userID, attributes, metadata)
		}
	}

	return result
}

func (c *Client) decideAll(ctx context.Context, userID string, attributes map[string]any, opts decision.Options) map[string]Decision {
	projectConfig := c.holder.Get()
	if projectConfig == nil {
		return map[string]Decision{}
	}

	decisions := make(map[string]Decision, len(projectConfig.Project.FeatureFlags))
	for i := range projectConfig.Project.FeatureFlags {
		flagKey := projectConfig.Project.FeatureFlags[i].Key
		decisions[flagKey] = c.decide(ctx, flagKey, userID, attributes, opts)
	}
	return decisions
}

// sendImpression builds and enqueues an activation event, best-effort.
func (c *Client) sendImpression(ctx context.Context, projectConfig *datafile.ProjectConfig, experiment *datafile.Experiment, variation *datafile.Variation, userID string, attributes map[string]any, metadata event.DecisionMetadata) {
	impression, err := c.builder.CreateImpressionEvent(projectConfig, experiment, variation, userID, attributes, metadata)
	if err != nil {
		c.log.Error("failed to build impression event", "error", err)
		return
	}
	if err := c.events.DispatchEvent(ctx, impression); err != nil {
		c.log.Error("failed to enqueue impression event", "error", err)
	}
}
