// internal/publish/sqs_queue.go
package publish

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue 는 Queue 계약의 SQS 구현이다.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue 는 AWS SDK Config를 초기화하고 SQS client를 생성한다.
// 실패 시 fail-fast.
func NewSQSQueue(region, queueURL string) *SQSQueue {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(region),
	)
	if err != nil {
		log.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	return &SQSQueue{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: queueURL,
	}
}

// Enqueue 는 SendMessage 1회 호출이다. 재시도는 하지 않는다 —
// 행 단위 실패 허용 정책은 Publisher 가 결정한다.
func (q *SQSQueue) Enqueue(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	return err
}
