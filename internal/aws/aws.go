package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"moff.io/wallet-connector/internal/connector"
	"moff.io/wallet-connector/pkg/errors"
	"moff.io/wallet-connector/pkg/log"
)

var (
	Client *Clients
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

func Init(ctx context.Context, region string) error {
	if region == "" {
		return errors.New("aws region not present")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return errors.WrapAndReport(err, "load aws sdk config")
	}
	Client = &Clients{
		region:    region,
		ssmClient: ssm.NewFromConfig(cfg),
		sqsClient: sqs.NewFromConfig(cfg),
	}
	return nil
}

type Clients struct {
	region    string
	ssmClient ssmAPI
	sqsClient sqsAPI
}

func (s *Clients) GetParameterFromSSM(ctx context.Context, paramName string) (string, error) {
	input := &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: true,
	}
	output, err := s.ssmClient.GetParameter(ctx, input)
	if err != nil {
		return "", errors.WrapfAndReport(err, "query parameter %s from ssm", paramName)
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", errors.Errorf("ssm parameter %s is empty", paramName)
	}
	return *output.Parameter.Value, nil
}

// ResolveProjectID 从 SSM 读取 project id，填充未配置的 provider
func (s *Clients) ResolveProjectID(ctx context.Context, opts *connector.Options, paramName string) error {
	if paramName == "" || opts == nil {
		return nil
	}
	projectID, err := s.GetParameterFromSSM(ctx, paramName)
	if err != nil {
		return err
	}
	for key, p := range opts.Providers {
		if p.ProjectID != "" {
			continue
		}
		p.ProjectID = projectID
		opts.Providers[key] = p
		log.Infof("walletconnect provider %s - project id loaded from ssm", key)
	}
	return nil
}
