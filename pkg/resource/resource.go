// Package resource defines the resource model shared by the fingerprint,
// filter and delta engines.
package resource

import (
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// GlobalRegion marks resources that are not bound to a region (IAM, Route53, S3 control plane).
const GlobalRegion = "global"

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Resource is one observed cloud object.
type Resource struct {
	ARN        string            `json:"arn" yaml:"arn"`                                   // Identity key, unique within a collection
	Type       string            `json:"type" yaml:"type"`                                 // e.g. "AWS::EC2::Instance"
	Name       string            `json:"name" yaml:"name"`                                 // Human-readable name
	Region     string            `json:"region" yaml:"region"`                             // Region or GlobalRegion
	Tags       map[string]string `json:"tags" yaml:"tags"`                                 // Normalized tags
	CreatedAt  *time.Time        `json:"created_at" yaml:"created_at"`                     // nil when the source does not expose it
	ConfigHash string            `json:"config_hash" yaml:"config_hash"`                   // 64-char lowercase hex SHA-256
	RawConfig  map[string]any    `json:"raw_config,omitempty" yaml:"raw_config,omitempty"` // Full captured configuration
}

// Service extracts the service segment of the resource type.
// "AWS::EC2::Instance" -> "EC2", "ec2:instance" -> "ec2".
func (r Resource) Service() string {
	return ServiceOf(r.Type)
}

// ShortType returns the last segment of a CloudFormation style type.
func (r Resource) ShortType() string {
	parts := strings.Split(r.Type, "::")
	return parts[len(parts)-1]
}

// HasTag reports whether the resource carries key, and if value is non-empty, with that value.
func (r Resource) HasTag(key, value string) bool {
	v, ok := r.Tags[key]
	if !ok {
		return false
	}
	return value == "" || v == value
}

// IsGlobal reports whether the resource is region independent.
func (r Resource) IsGlobal() bool {
	return r.Region == GlobalRegion
}

// ServiceOf extracts the service segment of a resource type string.
func ServiceOf(typ string) string {
	if strings.Contains(typ, "::") {
		parts := strings.Split(typ, "::")
		if len(parts) >= 2 {
			return parts[1]
		}
		return "Unknown"
	}
	if i := strings.Index(typ, ":"); i >= 0 {
		return typ[:i]
	}
	return typ
}

// ValidHash reports whether s is a 64-character lowercase hex digest.
func ValidHash(s string) bool {
	return hashPattern.MatchString(s)
}

// ParseARN parses an AWS ARN. Identities that are not ARNs are still valid
// reconciliation keys; this is only used for strict validation.
func ParseARN(s string) (arn.ARN, error) {
	return arn.Parse(s)
}

// IsARN reports whether s parses as an AWS ARN.
func IsARN(s string) bool {
	return arn.IsARN(s)
}
