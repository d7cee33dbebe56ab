package aws

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

func (s *Clients) MultiTrySendMessageToSQS(ctx context.Context, input *sqs.SendMessageInput, maxTry int) error {
	for i := 0; i < maxTry; i++ {
		_, err := s.sqsClient.SendMessage(ctx, input)
		if err != nil {
			log.Error(errors.WrapfAndReport(err, "send sqs message to %s", aws.ToString(input.QueueUrl)))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return errors.ErrorfAndReport("send sqs message to %s max try exceeded", aws.ToString(input.QueueUrl))
}

// QueueSink 将会话通知投递到 SQS，FIFO 队列按会话分组保证顺序
type QueueSink struct {
	clients  *Clients
	queueURL string
	maxTry   int
}

func NewQueueSink(clients *Clients, queueURL string) *QueueSink {
	return &QueueSink{clients: clients, queueURL: queueURL, maxTry: 3}
}

func (q *QueueSink) Publish(ctx context.Context, rec *connector.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.WithStack(err)
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(q.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(rec.SessionID)
		input.MessageDeduplicationId = aws.String(rec.SessionID + "-" + strconv.FormatInt(rec.Time.UnixNano(), 10))
	}
	return q.clients.MultiTrySendMessageToSQS(ctx, input, q.maxTry)
}
