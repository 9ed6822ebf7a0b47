package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

var _ Client = (*EC2Client)(nil)

// EC2Client talks to the EC2 control plane. All errors come back
// classified so the retry layer knows what is worth repeating.
type EC2Client struct {
	api    *ec2.Client
	region string
}

func NewEC2Client(ctx context.Context, region string) (*EC2Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EC2Client{api: ec2.NewFromConfig(cfg), region: region}, nil
}

func (c *EC2Client) Describe(ctx context.Context, resourceID string) (RawState, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{resourceID},
	})
	if err != nil {
		return RawState{}, classify("describe", resourceID, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			return rawFromInstance(inst), nil
		}
	}
	return RawState{}, PermanentErr("describe", resourceID, "InvalidInstanceID.NotFound",
		fmt.Errorf("instance %s not found", resourceID))
}

func (c *EC2Client) ListByTag(ctx context.Context, key, value string) ([]string, error) {
	filters := []ec2types.Filter{{
		Name:   aws.String("tag:" + key),
		Values: []string{value},
	}}

	var ids []string
	p := ec2.NewDescribeInstancesPaginator(c.api, &ec2.DescribeInstancesInput{Filters: filters})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("list", "", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				ids = append(ids, aws.ToString(inst.InstanceId))
			}
		}
	}
	return ids, nil
}

func (c *EC2Client) Start(ctx context.Context, resourceID string) error {
	_, err := c.api.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{resourceID},
	})
	if err != nil {
		return classify("start", resourceID, err)
	}
	return nil
}

func (c *EC2Client) Stop(ctx context.Context, resourceID string) error {
	_, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{resourceID},
	})
	if err != nil {
		return classify("stop", resourceID, err)
	}
	return nil
}

func (c *EC2Client) Reboot(ctx context.Context, resourceID string) error {
	_, err := c.api.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{resourceID},
	})
	if err != nil {
		return classify("reboot", resourceID, err)
	}
	return nil
}

func rawFromInstance(inst ec2types.Instance) RawState {
	raw := RawState{
		ResourceID:    aws.ToString(inst.InstanceId),
		InstanceClass: string(inst.InstanceType),
		PublicAddress: aws.ToString(inst.PublicIpAddress),
		LaunchTime:    inst.LaunchTime,
	}
	if inst.State != nil {
		raw.Status = string(inst.State.Name)
	}
	if len(inst.Tags) > 0 {
		raw.Tags = make(map[string]string, len(inst.Tags))
		for _, t := range inst.Tags {
			raw.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return raw
}

// permanentCodes are rejections that a retry cannot fix.
var permanentCodes = map[string]bool{
	"UnauthorizedOperation":       true,
	"AuthFailure":                 true,
	"InvalidInstanceID.NotFound":  true,
	"InvalidInstanceID.Malformed": true,
	"InvalidParameterValue":       true,
	"OperationNotPermitted":       true,
}

func classify(op, resourceID string, err error) *Error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if permanentCodes[code] {
			return PermanentErr(op, resourceID, code, err)
		}
		// Everything else (throttling, 5xx-style codes) is worth retrying.
		return TransientErr(op, resourceID, code, err)
	}
	// No API error means we never got an answer. Network trouble is transient.
	return TransientErr(op, resourceID, "", err)
}
