package awsutil

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// NewSQSClient loads the default AWS chain for region. With a LocalStack
// endpoint it uses dummy static credentials and overrides the base URL.
func NewSQSClient(ctx context.Context, region, localstack string) (*sqs.Client, error) {
	localstack = strings.TrimSpace(localstack)

	load := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	var override []func(*sqs.Options)
	if localstack != "" {
		load = append(load, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")))
		override = append(override, func(o *sqs.Options) { o.BaseEndpoint = aws.String(localstack) })
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, override...), nil
}

// QueueProbe reports whether queueURL answers GetQueueAttributes.
func QueueProbe(client *sqs.Client, queueURL string) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(queueURL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
		})
		return err
	}
}
