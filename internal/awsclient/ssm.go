package awsclient

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
	"github.com/tphakala/migration-assistant/internal/remote"
)

// ErrNoInstance is returned when the migration stack has no running instance.
var ErrNoInstance = errors.NewStd("no in-service instance found")

// InstanceResolver names the instance an SSM document runs on.
type InstanceResolver interface {
	ResolveInstance(ctx context.Context) (string, error)
}

// StaticInstance resolves to a fixed instance id.
type StaticInstance string

func (s StaticInstance) ResolveInstance(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoInstance
	}
	return string(s), nil
}

// ASGInstanceResolver picks the first in-service instance of an auto scaling group.
type ASGInstanceResolver struct {
	api       autoscalingiface.AutoScalingAPI
	groupName string
}

// NewASGInstanceResolver creates a resolver for groupName.
func NewASGInstanceResolver(sess client.ConfigProvider, groupName string) *ASGInstanceResolver {
	return &ASGInstanceResolver{api: autoscaling.New(sess), groupName: groupName}
}

// NewASGInstanceResolverWithAPI creates a resolver over an existing client.
func NewASGInstanceResolverWithAPI(api autoscalingiface.AutoScalingAPI, groupName string) *ASGInstanceResolver {
	return &ASGInstanceResolver{api: api, groupName: groupName}
}

func (r *ASGInstanceResolver) ResolveInstance(ctx context.Context) (string, error) {
	out, err := r.api.DescribeAutoScalingGroupsWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: aws.StringSlice([]string{r.groupName}),
	})
	if err != nil {
		return "", errors.New(err).
			Component("awsclient").
			Category(errors.CategoryNetwork).
			Context("asg", r.groupName).
			Build()
	}
	for _, group := range out.AutoScalingGroups {
		for _, inst := range group.Instances {
			if aws.StringValue(inst.LifecycleState) == autoscaling.LifecycleStateInService {
				return aws.StringValue(inst.InstanceId), nil
			}
		}
	}
	return "", errors.New(ErrNoInstance).
		Component("awsclient").
		Category(errors.CategoryNotFound).
		Context("asg", r.groupName).
		Build()
}

// SSMDocumentConfig describes one SSM document invocation.
type SSMDocumentConfig struct {
	DocumentName string
	Parameters   map[string][]string
	// OutputBucket and OutputPrefix receive the full command output. The
	// invocation API truncates stdout and stderr.
	OutputBucket   string
	OutputPrefix   string
	TimeoutSeconds int64
}

// SSMDocumentRunner runs an SSM document on one instance as a remote.Operation.
type SSMDocumentRunner struct {
	api      ssmiface.SSMAPI
	resolver InstanceResolver
	config   SSMDocumentConfig
	log      logger.Logger

	mu         sync.Mutex
	commandID  string
	instanceID string
}

var _ remote.Operation = (*SSMDocumentRunner)(nil)

// NewSSMDocumentRunner creates a runner from a session.
func NewSSMDocumentRunner(sess client.ConfigProvider, resolver InstanceResolver, cfg SSMDocumentConfig) *SSMDocumentRunner {
	return NewSSMDocumentRunnerWithAPI(ssm.New(sess), resolver, cfg)
}

// NewSSMDocumentRunnerWithAPI creates a runner over an existing client.
func NewSSMDocumentRunnerWithAPI(api ssmiface.SSMAPI, resolver InstanceResolver, cfg SSMDocumentConfig) *SSMDocumentRunner {
	return &SSMDocumentRunner{
		api:      api,
		resolver: resolver,
		config:   cfg,
		log:      GetLogger().Module("ssm"),
	}
}

// Start sends the command and remembers its id.
func (r *SSMDocumentRunner) Start(ctx context.Context) (string, error) {
	instanceID, err := r.resolver.ResolveInstance(ctx)
	if err != nil {
		return "", err
	}

	params := make(map[string][]*string, len(r.config.Parameters))
	for k, v := range r.config.Parameters {
		params[k] = aws.StringSlice(v)
	}

	input := &ssm.SendCommandInput{
		DocumentName: aws.String(r.config.DocumentName),
		InstanceIds:  aws.StringSlice([]string{instanceID}),
		Parameters:   params,
	}
	if r.config.OutputBucket != "" {
		input.OutputS3BucketName = aws.String(r.config.OutputBucket)
		input.OutputS3KeyPrefix = aws.String(r.config.OutputPrefix)
	}
	if r.config.TimeoutSeconds > 0 {
		input.TimeoutSeconds = aws.Int64(r.config.TimeoutSeconds)
	}

	out, err := r.api.SendCommandWithContext(ctx, input)
	if err != nil {
		return "", errors.New(err).
			Component("awsclient").
			Category(errors.CategoryRemote).
			Context("document", r.config.DocumentName).
			Context("instance_id", instanceID).
			Build()
	}

	commandID := aws.StringValue(out.Command.CommandId)
	r.mu.Lock()
	r.commandID, r.instanceID = commandID, instanceID
	r.mu.Unlock()

	r.log.Info("ssm command sent",
		logger.String("document", r.config.DocumentName),
		logger.String("command_id", commandID),
		logger.String("instance_id", instanceID))
	return commandID, nil
}

func (r *SSMDocumentRunner) ids() (commandID, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commandID, r.instanceID
}

// CommandID returns the id of the last sent command.
func (r *SSMDocumentRunner) CommandID() string {
	id, _ := r.ids()
	return id
}

// InstanceID returns the instance of the last sent command.
func (r *SSMDocumentRunner) InstanceID() string {
	_, id := r.ids()
	return id
}

// Config returns the document configuration.
func (r *SSMDocumentRunner) Config() SSMDocumentConfig { return r.config }

func (r *SSMDocumentRunner) invocation(ctx context.Context) (*ssm.GetCommandInvocationOutput, error) {
	commandID, instanceID := r.ids()
	if commandID == "" {
		return nil, remote.ErrNotStarted
	}
	return r.api.GetCommandInvocationWithContext(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	})
}

// PollStatus maps the invocation status onto remote.Status. An invocation
// that is not registered yet counts as pending.
func (r *SSMDocumentRunner) PollStatus(ctx context.Context) (remote.Status, error) {
	out, err := r.invocation(ctx)
	if err != nil {
		if isInvocationPending(err) {
			return remote.StatusPending, nil
		}
		return remote.StatusPending, err
	}
	return mapInvocationStatus(aws.StringValue(out.Status)), nil
}

// FetchLastOutput returns the truncated stdout and stderr of the invocation.
func (r *SSMDocumentRunner) FetchLastOutput(ctx context.Context) (remote.Output, error) {
	out, err := r.invocation(ctx)
	if err != nil {
		return remote.Output{}, err
	}
	return remote.Output{
		CommandID: aws.StringValue(out.CommandId),
		Status:    mapInvocationStatus(aws.StringValue(out.Status)),
		Stdout:    aws.StringValue(out.StandardOutputContent),
		Stderr:    aws.StringValue(out.StandardErrorContent),
		ExitCode:  int(aws.Int64Value(out.ResponseCode)),
	}, nil
}

// Cancel asks SSM to cancel the command.
func (r *SSMDocumentRunner) Cancel(ctx context.Context) error {
	commandID, instanceID := r.ids()
	if commandID == "" {
		return nil
	}
	_, err := r.api.CancelCommandWithContext(ctx, &ssm.CancelCommandInput{
		CommandId:   aws.String(commandID),
		InstanceIds: aws.StringSlice([]string{instanceID}),
	})
	if err != nil {
		return errors.New(err).
			Component("awsclient").
			Category(errors.CategoryRemote).
			Context("command_id", commandID).
			Build()
	}
	r.log.Info("ssm command cancelled", logger.String("command_id", commandID))
	return nil
}

func isInvocationPending(err error) bool {
	var awsErr awserr.Error
	return errors.As(err, &awsErr) && awsErr.Code() == ssm.ErrCodeInvocationDoesNotExist
}

func mapInvocationStatus(status string) remote.Status {
	switch status {
	case ssm.CommandInvocationStatusSuccess:
		return remote.StatusSuccess
	case ssm.CommandInvocationStatusCancelled:
		return remote.StatusCancelled
	case ssm.CommandInvocationStatusFailed, ssm.CommandInvocationStatusTimedOut:
		return remote.StatusFailed
	case ssm.CommandInvocationStatusInProgress, ssm.CommandInvocationStatusCancelling:
		return remote.StatusInProgress
	default:
		return remote.StatusPending
	}
}
