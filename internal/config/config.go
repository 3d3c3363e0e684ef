// Package config holds the core's configuration options, with documented
// defaults and functional options for overriding individual fields the
// way pkg/dialog/opts.go's Option pattern does.
package config

import "time"

// Config is the core's configuration structure. Zero value is meaningless;
// always start from Default().
type Config struct {
	Transaction Transaction
	RTP         RTP
	RTCP        RTCP
	SRTP        SRTP
	Session     Session
	Quality     Quality
}

// Transaction holds the RFC 3261 §17 timer bases.
type Transaction struct {
	T1 time.Duration
	T2 time.Duration
	T4 time.Duration
}

// RTP holds jitter-buffer sizing.
type RTP struct {
	JitterTargetPackets int
	JitterMaxPackets    int
}

// RTCP holds reporting cadence.
type RTCP struct {
	ReportInterval   time.Duration
	BandwidthFraction float64
}

// SRTP holds the default cipher suite and replay window size.
type SRTP struct {
	DefaultSuite     string
	ReplayWindowSize int
}

// Session holds session-level policy.
type Session struct {
	MaxConcurrent  int // 0 = unbounded
	AllowReinvite  bool
}

// Quality holds MOS alerting thresholds.
type Quality struct {
	MOSPoorThreshold     float64
	MOSCriticalThreshold float64
	LossFairThreshold    float64
	LossPoorThreshold    float64
}

// Default returns the recommended baseline configuration.
func Default() Config {
	return Config{
		Transaction: Transaction{
			T1: 500 * time.Millisecond,
			T2: 4 * time.Second,
			T4: 5 * time.Second,
		},
		RTP: RTP{
			JitterTargetPackets: 3,
			JitterMaxPackets:    50,
		},
		RTCP: RTCP{
			ReportInterval:    5 * time.Second,
			BandwidthFraction: 0.05,
		},
		SRTP: SRTP{
			DefaultSuite:     "AES_CM_128_HMAC_SHA1_80",
			ReplayWindowSize: 64,
		},
		Session: Session{
			MaxConcurrent: 0,
			AllowReinvite: true,
		},
		Quality: Quality{
			MOSPoorThreshold:     3.0,
			MOSCriticalThreshold: 2.0,
			LossFairThreshold:    0.05,
			LossPoorThreshold:    0.10,
		},
	}
}

// Option mutates a Config under construction.
type Option func(*Config)

// New builds a Config starting from Default() and applying opts in order.
func New(opts ...Option) Config {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithTimers overrides the transaction timer bases.
func WithTimers(t1, t2, t4 time.Duration) Option {
	return func(c *Config) { c.Transaction = Transaction{T1: t1, T2: t2, T4: t4} }
}

// WithJitterBuffer overrides jitter-buffer target/max depth.
func WithJitterBuffer(target, max int) Option {
	return func(c *Config) { c.RTP.JitterTargetPackets, c.RTP.JitterMaxPackets = target, max }
}

// WithRTCPReportInterval overrides the RTCP report cadence.
func WithRTCPReportInterval(d time.Duration) Option {
	return func(c *Config) { c.RTCP.ReportInterval = d }
}

// WithSRTPSuite overrides the default SRTP cipher suite.
func WithSRTPSuite(suite string) Option {
	return func(c *Config) { c.SRTP.DefaultSuite = suite }
}

// WithMaxConcurrentSessions overrides the session concurrency cap (0 = unbounded).
func WithMaxConcurrentSessions(n int) Option {
	return func(c *Config) { c.Session.MaxConcurrent = n }
}

// WithReinviteAllowed overrides whether re-INVITE renegotiation is permitted.
func WithReinviteAllowed(allowed bool) Option {
	return func(c *Config) { c.Session.AllowReinvite = allowed }
}

// WithQualityThresholds overrides the MOS/loss alerting thresholds.
func WithQualityThresholds(q Quality) Option {
	return func(c *Config) { c.Quality = q }
}
