package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

func sampleConfig() map[string]any {
	return map[string]any{
		"InstanceId":   "i-abc123",
		"InstanceType": "t3.micro",
		"State":        map[string]any{"Name": "running"},
		"Tags": []any{
			map[string]any{"Key": "env", "Value": "prod"},
			map[string]any{"Key": "team", "Value": "platform"},
		},
		"BlockDeviceMappings": []any{
			map[string]any{
				"DeviceName": "/dev/xvda",
				"Ebs":        map[string]any{"VolumeId": "vol-1", "Status": "attached"},
			},
		},
	}
}

func TestSum_Format(t *testing.T) {
	h := New()
	sum := h.Sum(sampleConfig())
	assert.Len(t, sum, 64)
	assert.True(t, resource.ValidHash(sum))
}

func TestSum_KeyOrderIndependent(t *testing.T) {
	h := New()

	a := map[string]any{"a": 1, "b": map[string]any{"x": "1", "y": "2"}}
	b := map[string]any{"b": map[string]any{"y": "2", "x": "1"}, "a": 1}

	assert.Equal(t, h.Sum(a), h.Sum(b))
	assert.Equal(t, string(h.Canonical(a)), string(h.Canonical(b)))
}

func TestSum_Deterministic(t *testing.T) {
	h := New()
	first := h.Sum(sampleConfig())
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, h.Sum(sampleConfig()))
	}
}

func TestSum_SensitiveToNonExcludedFields(t *testing.T) {
	h := New()
	base := h.Sum(sampleConfig())

	changed := sampleConfig()
	changed["InstanceType"] = "t3.large"
	assert.NotEqual(t, base, h.Sum(changed))

	nested := sampleConfig()
	nested["BlockDeviceMappings"].([]any)[0].(map[string]any)["DeviceName"] = "/dev/sdb"
	assert.NotEqual(t, base, h.Sum(nested))

	added := sampleConfig()
	added["EbsOptimized"] = true
	assert.NotEqual(t, base, h.Sum(added))
}

func TestSum_IgnoresExcludedFields(t *testing.T) {
	h := New()
	base := h.Sum(sampleConfig())

	changed := sampleConfig()
	changed["State"] = map[string]any{"Name": "stopped"}
	changed["LastModifiedDate"] = "2025-01-01T00:00:00Z"
	changed["ResponseMetadata"] = map[string]any{"RequestId": "abc"}
	// Excluded keys are stripped inside sequences as well
	changed["BlockDeviceMappings"].([]any)[0].(map[string]any)["Ebs"].(map[string]any)["Status"] = "detaching"

	assert.Equal(t, base, h.Sum(changed))
}

func TestSum_SequenceOrderMatters(t *testing.T) {
	h := New()
	a := map[string]any{"list": []any{"a", "b"}}
	b := map[string]any{"list": []any{"b", "a"}}
	assert.NotEqual(t, h.Sum(a), h.Sum(b))
}

func TestWithExclusions_Replaces(t *testing.T) {
	h := New(WithExclusions("Noise"))

	a := map[string]any{"Name": "x", "Noise": 1, "Status": "ok"}
	b := map[string]any{"Name": "x", "Noise": 2, "Status": "ok"}
	c := map[string]any{"Name": "x", "Noise": 1, "Status": "failed"}

	assert.Equal(t, h.Sum(a), h.Sum(b))
	assert.NotEqual(t, h.Sum(a), h.Sum(c), "Status is hashed once the default set is replaced")
	assert.Equal(t, []string{"Noise"}, h.Exclusions())
}

func TestWithAdditionalExclusions(t *testing.T) {
	h := New(WithAdditionalExclusions("Etag"))
	assert.True(t, h.Excluded("Etag"))
	assert.True(t, h.Excluded("State"))
	assert.False(t, h.Excluded("InstanceType"))
}

func TestHashers_AreIndependent(t *testing.T) {
	a := New(WithExclusions("X"))
	b := New()
	assert.True(t, a.Excluded("X"))
	assert.False(t, b.Excluded("X"))

	defaults := DefaultExclusions()
	defaults[0] = "mutated"
	assert.Equal(t, "ResponseMetadata", DefaultExclusions()[0])
}

func TestCanonical_Scalars(t *testing.T) {
	h := New()
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	got := string(h.Canonical(map[string]any{
		"b":    true,
		"n":    nil,
		"i":    int32(7),
		"f":    1.5,
		"t":    ts,
		"s":    "x",
		"raw":  []byte("hi"),
		"list": []string{"a"},
	}))

	assert.Equal(t, `{"b":true,"f":1.5,"i":7,"list":["a"],"n":null,"raw":"aGk=","s":"x","t":"2025-03-01T11:00:00Z"}`, got)
}

func TestCanonical_NumbersNormalize(t *testing.T) {
	h := New()

	// Integral values hash the same regardless of how they were decoded
	assert.Equal(t, h.Sum(map[string]any{"n": 3}), h.Sum(map[string]any{"n": 3.0}))
	assert.Equal(t, h.Sum(map[string]any{"n": 3}), h.Sum(map[string]any{"n": json.Number("3")}))
	assert.Equal(t, h.Sum(map[string]any{"n": 2.5}), h.Sum(map[string]any{"n": json.Number("2.5")}))
	assert.NotEqual(t, h.Sum(map[string]any{"n": 3}), h.Sum(map[string]any{"n": "3"}))
}

func TestCanonical_LargeIntegersExact(t *testing.T) {
	h := New()

	a := h.Sum(map[string]any{"id": json.Number("12345678901234567890")})
	b := h.Sum(map[string]any{"id": json.Number("12345678901234567891")})
	assert.NotEqual(t, a, b)

	// A YAML decoder yields uint64 where JSON yields the literal
	assert.Equal(t, a, h.Sum(map[string]any{"id": uint64(12345678901234567890)}))

	canon := h.Canonical(map[string]any{"id": json.Number("-123456789012345678901234567890")})
	assert.Equal(t, `{"id":-123456789012345678901234567890}`, string(canon))

	// Literals with a fraction or exponent still go through float64
	assert.Equal(t, h.Sum(map[string]any{"n": 1e21}), h.Sum(map[string]any{"n": json.Number("1e21")}))
}

func TestCanonical_NeverFails(t *testing.T) {
	h := New()

	type inner struct {
		Port int `json:"port"`
	}
	weird := map[string]any{
		"nan":     math.NaN(),
		"inf":     math.Inf(1),
		"struct":  inner{Port: 80},
		"ptr":     &inner{Port: 81},
		"nilptr":  (*inner)(nil),
		"complex": complex(1, 2),
		"intkeys": map[int]string{2: "b", 1: "a"},
		"stringer": time.Second,
	}

	assert.NotPanics(t, func() { h.Sum(weird) })
	assert.Equal(t, h.Sum(weird), h.Sum(weird))

	got := string(h.Canonical(map[string]any{"struct": inner{Port: 80}, "intkeys": map[int]string{2: "b", 1: "a"}}))
	assert.Equal(t, `{"intkeys":{"1":"a","2":"b"},"struct":{"port":80}}`, got)
}

func TestClean_DoesNotMutateInput(t *testing.T) {
	h := New()
	cfg := sampleConfig()
	_ = h.Clean(cfg)
	assert.Contains(t, cfg, "State")
}

func TestStamp(t *testing.T) {
	h := New()
	r := resource.Resource{ARN: "arn:aws:ec2:us-east-1:1:instance/i-abc123", RawConfig: sampleConfig()}
	h.Stamp(&r)
	assert.Equal(t, h.Sum(sampleConfig()), r.ConfigHash)
}

func TestStampAll_MatchesSequential(t *testing.T) {
	h := New()
	resources := make([]resource.Resource, 200)
	for i := range resources {
		resources[i] = resource.Resource{
			ARN:       fmt.Sprintf("arn:%d", i),
			RawConfig: map[string]any{"id": i, "name": fmt.Sprintf("r-%d", i)},
		}
	}

	require.NoError(t, h.StampAll(context.Background(), resources, 8))

	for i, r := range resources {
		assert.Equal(t, h.Sum(map[string]any{"id": i, "name": fmt.Sprintf("r-%d", i)}), r.ConfigHash)
	}
}

func TestStampAll_CanceledContext(t *testing.T) {
	h := New()
	resources := []resource.Resource{{ARN: "a", RawConfig: map[string]any{"x": 1}}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.StampAll(ctx, resources, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
