package dtlssrtp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFingerprint(t *testing.T) {
	f, err := ParseFingerprint("sha-256 AB:CD:EF:01")
	require.NoError(t, err)
	require.Equal(t, "sha-256", f.Algorithm)
	require.Equal(t, "ab:cd:ef:01", f.Digest)
}

func TestParseFingerprint_Malformed(t *testing.T) {
	_, err := ParseFingerprint("not-a-fingerprint")
	require.Error(t, err)
}

func TestComputeAndMatches_RoundTrip(t *testing.T) {
	cert, err := GenerateSelfSigned()
	require.NoError(t, err)

	fp, err := Compute(cert.Leaf, "sha-256")
	require.NoError(t, err)
	require.True(t, fp.Matches(cert.Leaf))
}

func TestMatches_RejectsWrongCertificate(t *testing.T) {
	certA, err := GenerateSelfSigned()
	require.NoError(t, err)
	certB, err := GenerateSelfSigned()
	require.NoError(t, err)

	fp, err := Compute(certA.Leaf, "sha-256")
	require.NoError(t, err)
	require.False(t, fp.Matches(certB.Leaf))
}

func TestFingerprint_StringRendersUppercaseDigest(t *testing.T) {
	f := Fingerprint{Algorithm: "sha-256", Digest: "ab:cd"}
	require.Equal(t, "sha-256 AB:CD", f.String())
}
