// Package metrics publishes CloudWatch metrics for the scheduled jobs.
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchClient is the subset of the CloudWatch API in use
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Publisher publishes Count metrics into one namespace
type Publisher struct {
	client    CloudWatchClient
	namespace string
}

// NewPublisher creates a new Publisher
func NewPublisher(client CloudWatchClient, namespace string) *Publisher {
	return &Publisher{
		client:    client,
		namespace: namespace,
	}
}

// PublishMetric publishes a single metric
func (p *Publisher) PublishMetric(ctx context.Context, name string, value float64) error {
	return p.PublishMetrics(ctx, map[string]float64{name: value})
}

// PublishMetrics publishes several metrics in one call
func (p *Publisher) PublishMetrics(ctx context.Context, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}
	data := make([]types.MetricDatum, 0, len(values))
	for name, value := range values {
		data = append(data, types.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(value),
			Unit:       types.StandardUnitCount,
		})
	}
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(p.namespace),
		MetricData: data,
	})
	return err
}
