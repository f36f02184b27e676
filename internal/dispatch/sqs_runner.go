// internal/dispatch/sqs_runner.go
package dispatch

import (
	"context"
	"fmt"
	stdlog "log"

	"thermo-pipeline/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
)

// Runner 는 SQS long-poll 로 bounded 배치를 수신해서 Dispatcher 에 넘긴다.
//
// at-least-once 계약의 핵심:
//   - Dispatch 성공 → 해당 메시지들을 삭제(ack).
//   - Dispatch 실패 → 삭제하지 않는다. visibility timeout 이 지나면
//     queue 가 배치 전체를 다시 전달한다.
//
// 읽은 메시지를 "sink 전송 확인 또는 재전달" 없이 잃는 경로는 없다.
type Runner struct {
	cfg        config.Dispatch
	client     *sqs.Client
	dispatcher *Dispatcher
}

// NewRunner 는 SQS client 를 생성한다. 실패 시 fail-fast.
func NewRunner(cfg config.Dispatch, d *Dispatcher) *Runner {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(
		context.TODO(),
		awsCfgLib.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		stdlog.Fatalf("[FATAL] failed to load AWS config: %v", err)
	}

	return &Runner{
		cfg:        cfg,
		client:     sqs.NewFromConfig(awsCfg),
		dispatcher: d,
	}
}

// Run 은 ctx 가 취소될 때까지 수신 → 전달 → ack 루프를 돈다.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := r.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(r.cfg.QueueURL),
			MaxNumberOfMessages: r.cfg.ReceiveMax,
			WaitTimeSeconds:     int32(r.cfg.ReceiveWait.Seconds()),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("receive failed")
			continue
		}

		if len(out.Messages) == 0 {
			continue
		}

		bodies := make([][]byte, 0, len(out.Messages))
		for _, m := range out.Messages {
			bodies = append(bodies, []byte(aws.ToString(m.Body)))
		}

		if err := r.dispatcher.Dispatch(ctx, bodies); err != nil {
			// 삭제하지 않고 그대로 둔다 → visibility timeout 후 재전달
			log.Error().Err(err).Int("messages", len(out.Messages)).
				Msg("batch dispatch failed, leaving for redelivery")
			continue
		}

		r.ack(ctx, out.Messages)
	}
}

// ack 는 전달에 성공한 배치의 메시지를 일괄 삭제한다.
// 삭제 실패는 중복 전달로 이어질 뿐 유실은 아니므로 로그만 남긴다.
func (r *Runner) ack(ctx context.Context, msgs []types.Message) {
	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("m%d", i)),
			ReceiptHandle: m.ReceiptHandle,
		})
	}

	out, err := r.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(r.cfg.QueueURL),
		Entries:  entries,
	})
	if err != nil {
		log.Warn().Err(err).Msg("delete batch failed, messages may be redelivered")
		return
	}
	for _, f := range out.Failed {
		log.Warn().
			Str("id", aws.ToString(f.Id)).
			Str("code", aws.ToString(f.Code)).
			Msg("message delete failed, may be redelivered")
	}
}
