package resource

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceOf(t *testing.T) {
	tests := []struct {
		typ  string
		want string
	}{
		{"AWS::EC2::Instance", "EC2"},
		{"AWS::S3::Bucket", "S3"},
		{"ec2:instance", "ec2"},
		{"iam:role", "iam"},
		{"lambda", "lambda"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, ServiceOf(tt.typ))
		})
	}
}

func TestResource_ShortType(t *testing.T) {
	assert.Equal(t, "Instance", Resource{Type: "AWS::EC2::Instance"}.ShortType())
	assert.Equal(t, "ec2:instance", Resource{Type: "ec2:instance"}.ShortType())
}

func TestResource_HasTag(t *testing.T) {
	r := Resource{Tags: map[string]string{"env": "prod"}}
	assert.True(t, r.HasTag("env", ""))
	assert.True(t, r.HasTag("env", "prod"))
	assert.False(t, r.HasTag("env", "dev"))
	assert.False(t, r.HasTag("team", ""))

	// Nil tags never match
	assert.False(t, Resource{}.HasTag("env", ""))
}

func TestValidHash(t *testing.T) {
	assert.True(t, ValidHash(strings.Repeat("a", 64)))
	assert.True(t, ValidHash("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.False(t, ValidHash(strings.Repeat("A", 64)), "uppercase is rejected")
	assert.False(t, ValidHash(strings.Repeat("a", 63)))
	assert.False(t, ValidHash(strings.Repeat("g", 64)))
}

func TestIsARN(t *testing.T) {
	assert.True(t, IsARN("arn:aws:ec2:us-east-1:123456789012:instance/i-abc"))
	assert.False(t, IsARN("i-abc"))

	parsed, err := ParseARN("arn:aws:iam::123456789012:role/admin")
	require.NoError(t, err)
	assert.Equal(t, "iam", parsed.Service)
	assert.Equal(t, "123456789012", parsed.AccountID)
	assert.Empty(t, parsed.Region)
}

func TestCollection_Validate(t *testing.T) {
	good := strings.Repeat("b", 64)

	t.Run("valid", func(t *testing.T) {
		c := Collection{Resources: []Resource{{ARN: "a", ConfigHash: good}, {ARN: "b"}}}
		assert.NoError(t, c.Validate())
	})

	t.Run("empty arn", func(t *testing.T) {
		c := Collection{Resources: []Resource{{ARN: ""}}}
		err := c.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEmptyARN))
	})

	t.Run("duplicate arn", func(t *testing.T) {
		c := Collection{Name: "base", Resources: []Resource{{ARN: "a"}, {ARN: "a"}}}
		err := c.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateARN)
		assert.Contains(t, err.Error(), "collection base")
	})

	t.Run("bad hash", func(t *testing.T) {
		c := Collection{Resources: []Resource{{ARN: "a", ConfigHash: "xyz"}}}
		assert.ErrorIs(t, c.Validate(), ErrInvalidHash)
	})

	t.Run("strict requires arns", func(t *testing.T) {
		c := Collection{Resources: []Resource{{ARN: "i-123"}}}
		assert.NoError(t, c.Validate())
		assert.ErrorIs(t, c.ValidateStrict(), ErrNotARN)

		c = Collection{Resources: []Resource{{ARN: "arn:aws:s3:::bucket"}}}
		assert.NoError(t, c.ValidateStrict())
	})

	t.Run("require hashes", func(t *testing.T) {
		c := Collection{Name: "cur", Resources: []Resource{
			{ARN: "arn1", ConfigHash: strings.Repeat("a", 64)},
			{ARN: "arn2"},
		}}
		assert.NoError(t, c.Validate())
		err := c.RequireHashes()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingHash)
		assert.Contains(t, err.Error(), "arn2")

		c.Resources[1].ConfigHash = strings.Repeat("b", 64)
		assert.NoError(t, c.RequireHashes())
	})
}

func TestCollection_ServiceCountsAndARNs(t *testing.T) {
	c := Collection{Resources: []Resource{
		{ARN: "c", Type: "AWS::EC2::Instance"},
		{ARN: "a", Type: "AWS::EC2::Volume"},
		{ARN: "b", Type: "AWS::S3::Bucket"},
	}}
	assert.Equal(t, map[string]int{"EC2": 2, "S3": 1}, c.ServiceCounts())
	assert.Equal(t, []string{"a", "b", "c"}, c.ARNs())
	assert.Equal(t, 3, c.Len())
}

func TestDiffType_Constants(t *testing.T) {
	assert.Equal(t, DiffType("added"), DiffAdded)
	assert.Equal(t, DiffType("deleted"), DiffDeleted)
	assert.Equal(t, DiffType("modified"), DiffModified)
	assert.Equal(t, DiffType("unchanged"), DiffUnchanged)
}

func TestDeltaReport_Counts(t *testing.T) {
	report := DeltaReport{
		Added:         []Resource{{ARN: "arn3", Type: "AWS::S3::Bucket"}},
		Modified:      []ModifiedResource{{Current: Resource{ARN: "arn2", Type: "AWS::EC2::Instance"}}},
		BaselineCount: 2,
		CurrentCount:  3,
	}

	assert.Equal(t, 1, report.UnchangedCount())
	assert.Equal(t, 2, report.TotalChanges())
	assert.True(t, report.HasChanges())

	grouped := report.GroupByType()
	require.Len(t, grouped, 2)
	assert.Len(t, grouped["AWS::S3::Bucket"].Added, 1)
	assert.Len(t, grouped["AWS::EC2::Instance"].Modified, 1)
	assert.Empty(t, grouped["AWS::EC2::Instance"].Deleted)
}

func TestDeltaReport_NoChanges(t *testing.T) {
	report := DeltaReport{BaselineCount: 4, CurrentCount: 4}
	assert.False(t, report.HasChanges())
	assert.Equal(t, 4, report.UnchangedCount())
	assert.Empty(t, report.GroupByType())
}
