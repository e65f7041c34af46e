// Package aws maps flavors onto EC2 launch templates.
//
// A launch template carries the flavor shape as instance requirements plus a
// root volume, and the remaining attributes as tags.
package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/benchctx/internal/compute"
	"github.com/yairfalse/benchctx/internal/runctx"
	"github.com/yairfalse/benchctx/pkg/resource"
)

const (
	// ProviderName is the credential provider value selecting this adapter.
	ProviderName = "aws"
	// ResourceType is the cleanup identifier for launch templates.
	ResourceType = "ec2.launch_templates"

	tagPrefix    = "benchctx:"
	tagOwner     = tagPrefix + "owner"
	tagRAM       = tagPrefix + "ram"
	tagVCPUs     = tagPrefix + "vcpus"
	tagDisk      = tagPrefix + "disk"
	tagEphemeral = tagPrefix + "ephemeral"
	tagSwap      = tagPrefix + "swap"
	tagSpec      = tagPrefix + "spec:"

	rootDevice = "/dev/xvda"
)

// EC2API defines the EC2 operations used by the adapter.
type EC2API interface {
	CreateLaunchTemplate(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	DescribeLaunchTemplates(ctx context.Context, params *ec2.DescribeLaunchTemplatesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplatesOutput, error)
	DeleteLaunchTemplate(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// Provider returns the registry entry for EC2.
func Provider() compute.Provider {
	return compute.Provider{
		Name:         ProviderName,
		ResourceType: ResourceType,
		New:          NewClient,
	}
}

// NewClient loads the default AWS config for the credential's region and profile.
func NewClient(ctx context.Context, cred runctx.Credential) (compute.FlavorClient, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cred.Region)}
	if cred.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cred.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(ec2.NewFromConfig(awsCfg), cred.Region), nil
}

// New wraps an EC2API.
func New(api EC2API, region string) *Client {
	return &Client{api: api, region: region}
}

// Client implements compute.FlavorClient with launch templates.
type Client struct {
	api    EC2API
	region string
}

// ResourceType returns the cleanup identifier.
func (c *Client) ResourceType() string {
	return ResourceType
}

// CreateFlavor creates a launch template named after the flavor.
func (c *Client) CreateFlavor(ctx context.Context, opts compute.FlavorOpts) (compute.Flavor, error) {
	tags := map[string]string{
		"Name":       opts.Name,
		tagRAM:       strconv.Itoa(opts.RAM),
		tagVCPUs:     strconv.Itoa(opts.VCPUs),
		tagDisk:      strconv.Itoa(opts.Disk),
		tagEphemeral: strconv.Itoa(opts.Ephemeral),
		tagSwap:      strconv.Itoa(opts.Swap),
	}
	if opts.Owner != "" {
		tags[tagOwner] = opts.Owner
	}

	data := &types.RequestLaunchTemplateData{
		InstanceRequirements: &types.InstanceRequirementsRequest{
			VCpuCount: &types.VCpuCountRangeRequest{
				Min: aws.Int32(int32(opts.VCPUs)),
				Max: aws.Int32(int32(opts.VCPUs)),
			},
			MemoryMiB: &types.MemoryMiBRequest{
				Min: aws.Int32(int32(opts.RAM)),
				Max: aws.Int32(int32(opts.RAM)),
			},
		},
	}
	if opts.Disk > 0 {
		data.BlockDeviceMappings = []types.LaunchTemplateBlockDeviceMappingRequest{{
			DeviceName: aws.String(rootDevice),
			Ebs:        &types.LaunchTemplateEbsBlockDeviceRequest{VolumeSize: aws.Int32(int32(opts.Disk))},
		}}
	}

	output, err := c.api.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(opts.Name),
		LaunchTemplateData: data,
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeLaunchTemplate,
			Tags:         toEC2Tags(tags),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("create launch template %q: %w", opts.Name, translate(err))
	}

	id := ""
	if output.LaunchTemplate != nil {
		id = aws.ToString(output.LaunchTemplate.LaunchTemplateId)
	}
	return &template{client: c, id: id, name: opts.Name, tags: tags}, nil
}

// ListFlavors lists launch templates carrying an owner tag.
func (c *Client) ListFlavors(ctx context.Context) ([]compute.Flavor, error) {
	var out []compute.Flavor
	var nextToken *string

	for {
		output, err := c.api.DescribeLaunchTemplates(ctx, &ec2.DescribeLaunchTemplatesInput{
			Filters:   []types.Filter{{Name: aws.String("tag-key"), Values: []string{tagOwner}}},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe launch templates: %w", translate(err))
		}

		for _, lt := range output.LaunchTemplates {
			out = append(out, &template{
				client: c,
				id:     aws.ToString(lt.LaunchTemplateId),
				name:   aws.ToString(lt.LaunchTemplateName),
				tags:   fromEC2Tags(lt.Tags),
			})
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return out, nil
}

// DeleteFlavor deletes a launch template by ID.
func (c *Client) DeleteFlavor(ctx context.Context, id string) error {
	_, err := c.api.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateId: aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("delete launch template %s: %w", id, translate(err))
	}
	return nil
}

type template struct {
	client *Client
	id     string
	name   string
	tags   map[string]string
}

func (t *template) ID() string { return t.id }

func (t *template) Name() string { return t.name }

func (t *template) Owner() string { return t.tags[tagOwner] }

// SetKeys stores extra specs as prefixed tags.
func (t *template) SetKeys(ctx context.Context, keys map[string]string) error {
	if len(keys) == 0 {
		return nil
	}

	tags := make(map[string]string, len(keys))
	for k, v := range keys {
		tags[tagSpec+k] = v
	}

	_, err := t.client.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{t.id},
		Tags:      toEC2Tags(tags),
	})
	if err != nil {
		return fmt.Errorf("tag launch template %s: %w", t.id, translate(err))
	}

	for k, v := range tags {
		t.tags[k] = v
	}
	return nil
}

func (t *template) ToMap() map[string]any {
	m := map[string]any{
		"id":        t.id,
		"name":      t.name,
		"region":    t.client.region,
		"ram":       t.intTag(tagRAM),
		"vcpus":     t.intTag(tagVCPUs),
		"disk":      t.intTag(tagDisk),
		"ephemeral": t.intTag(tagEphemeral),
		"swap":      t.intTag(tagSwap),
	}
	if owner := t.Owner(); owner != "" {
		m["owner"] = owner
	}

	specs := make(map[string]string)
	for k, v := range t.tags {
		if key, ok := strings.CutPrefix(k, tagSpec); ok {
			specs[key] = v
		}
	}
	if len(specs) > 0 {
		m["extra_specs"] = specs
	}
	return m
}

func (t *template) intTag(key string) int {
	n, err := strconv.Atoi(t.tags[key])
	if err != nil {
		return 0
	}
	return n
}

// translate maps EC2 error codes onto the resource error taxonomy.
func translate(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch code := apiErr.ErrorCode(); {
	case code == "InvalidLaunchTemplateName.AlreadyExistsException":
		return fmt.Errorf("%w: %v", resource.ErrConflict, err)
	case strings.HasPrefix(code, "InvalidLaunchTemplateId.NotFound"),
		strings.HasPrefix(code, "InvalidLaunchTemplateName.NotFound"):
		return fmt.Errorf("%w: %v", resource.ErrNotFound, err)
	default:
		return err
	}
}

func toEC2Tags(tags map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func fromEC2Tags(tags []types.Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, tag := range tags {
		out[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return out
}
