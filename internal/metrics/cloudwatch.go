package metrics

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tickstream/config"
	"tickstream/logger"
)

const (
	defaultCloudWatchInterval = time.Minute
	// PutMetricData accepts at most 1000 datums per call.
	maxDatumsPerCall = 1000
)

type metricDataPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type seriesKey struct {
	component string
	name      string
	dims      string
}

type series struct {
	metric Metric
	sum    float64
}

// CloudWatchPublisher aggregates emitted metrics in memory and publishes
// them on a fixed interval.
type CloudWatchPublisher struct {
	client    metricDataPutter
	namespace string
	interval  time.Duration
	log       *logger.Entry

	mu      sync.Mutex
	pending map[seriesKey]*series
	id      MetricHandlerID
}

// NewCloudWatchPublisher builds a publisher from configuration. Static
// credentials are used when both keys are set, otherwise the default AWS
// credential chain applies.
func NewCloudWatchPublisher(ctx context.Context, cfg config.CloudWatchConfig) (*CloudWatchPublisher, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newCloudWatchPublisher(cloudwatch.NewFromConfig(awsCfg), cfg.Namespace, cfg.PublishInterval), nil
}

func newCloudWatchPublisher(client metricDataPutter, namespace string, interval time.Duration) *CloudWatchPublisher {
	if interval <= 0 {
		interval = defaultCloudWatchInterval
	}
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
		interval:  interval,
		log:       logger.GetLogger().WithComponent("cloudwatch"),
		pending:   make(map[seriesKey]*series),
	}
}

// Start registers the publisher as a metric handler and flushes until ctx
// ends. A final flush runs on the way out.
func (p *CloudWatchPublisher) Start(ctx context.Context) {
	p.id = RegisterMetricHandler(p.record)
	p.log.WithFields(logger.Fields{
		"namespace": p.namespace,
		"interval":  p.interval.String(),
	}).Info("CloudWatch publisher started")

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		defer UnregisterMetricHandler(p.id)
		for {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				p.flush(flushCtx)
				cancel()
				return
			case <-ticker.C:
				p.flush(ctx)
			}
		}
	}()
}

func (p *CloudWatchPublisher) record(m Metric) {
	key := seriesKey{component: m.Component, name: m.Name, dims: dimensionKey(m.Fields)}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.pending[key]
	if !ok {
		s = &series{metric: m}
		p.pending[key] = s
	}
	if m.Type == "gauge" {
		s.sum = m.Value
	} else {
		s.sum += m.Value
	}
	s.metric.Timestamp = m.Timestamp
}

func (p *CloudWatchPublisher) flush(ctx context.Context) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[seriesKey]*series, len(pending))
	p.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	data := make([]cwtypes.MetricDatum, 0, len(pending))
	for _, s := range pending {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(s.metric.Name),
			Dimensions: dimensions(s.metric.Component, s.metric.Fields),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  aws.Time(s.metric.Timestamp),
			Value:      aws.Float64(s.sum),
		})
	}

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		if _, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(p.namespace),
			MetricData: data[start:end],
		}); err != nil {
			p.log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	p.log.WithField("series", len(data)).Debug("published metrics to CloudWatch")
}

func dimensions(component string, fields logger.Fields) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for _, k := range sortedKeys(fields) {
		if s, ok := fields[k].(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return dims
}

func dimensionKey(fields logger.Fields) string {
	var b strings.Builder
	for _, k := range sortedKeys(fields) {
		if s, ok := fields[k].(string); ok && s != "" {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(s)
			b.WriteByte(';')
		}
	}
	return b.String()
}

func sortedKeys(fields logger.Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
