// Package awsclient wraps the AWS SDK calls the migration needs: the queue
// depth of the migration stack's SQS queue and SSM documents run on its
// instances.
package awsclient

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// Config selects region, endpoint and credentials.
type Config struct {
	Region          string
	Endpoint        string // optional, for S3/SQS compatible test endpoints
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewSession creates an SDK session. Static keys take precedence over the
// profile, which takes precedence over the default credential chain.
func NewSession(cfg Config) (*session.Session, error) {
	awsCfg := aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsCfg,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("awsclient").
			Category(errors.CategoryConfiguration).
			Context("region", cfg.Region).
			Build()
	}

	GetLogger().Debug("aws session created",
		logger.String("region", aws.StringValue(sess.Config.Region)),
		logger.Bool("custom_endpoint", cfg.Endpoint != ""))
	return sess, nil
}
