package lib

import (
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	. "github.com/thediveo/success"
)

var _ = Describe("command line parsing", func() {

	It("needs nothing but the command", func() {
		stderr := gbytes.NewBuffer()
		cfg := Successful(ParseArgs([]string{"serve", "cat"}, stderr))
		Expect(cfg.Command).To(Equal("cat"))
		Expect(cfg.Address.Family).To(Equal(unix.AF_INET))
		Expect(cfg.Type).To(Equal(unix.SOCK_STREAM))
		Expect(cfg.Backlog).To(Equal(unix.SOMAXCONN))
		Expect(cfg.MaxWorkers).To(BeZero())
		Expect(stderr.Contents()).To(BeEmpty())
	})

	It("accepts the full flag set", func() {
		stderr := gbytes.NewBuffer()
		cfg := Successful(ParseArgs([]string{
			"serve", "-a", "inet6 ::1 7000", "-b", "16", "-t", "seqpacket",
			"-m", "4", "true",
		}, stderr))
		Expect(cfg.Address.Family).To(Equal(unix.AF_INET6))
		Expect(cfg.Type).To(Equal(unix.SOCK_SEQPACKET))
		Expect(cfg.Backlog).To(Equal(16))
		Expect(cfg.MaxWorkers).To(Equal(4))
		Expect(cfg.Command).To(Equal("true"))
	})

	DescribeTable("socket types",
		func(name string, typ int) {
			cfg := Successful(ParseArgs(
				[]string{"serve", "-t", name, "cat"}, gbytes.NewBuffer()))
			Expect(cfg.Type).To(Equal(typ))
		},
		Entry("stream", "stream", unix.SOCK_STREAM),
		Entry("dgram", "dgram", unix.SOCK_DGRAM),
		Entry("seqpacket", "seqpacket", unix.SOCK_SEQPACKET),
	)

	It("clamps the backlog into [0, SOMAXCONN]", func() {
		stderr := gbytes.NewBuffer()
		cfg := Successful(ParseArgs([]string{"serve", "-b", "-5", "cat"}, stderr))
		Expect(cfg.Backlog).To(BeZero())
		cfg = Successful(ParseArgs([]string{"serve", "-b", "123456789", "cat"}, stderr))
		Expect(cfg.Backlog).To(Equal(unix.SOMAXCONN))
	})

	It("only warns about protocol specifications", func() {
		stderr := gbytes.NewBuffer()
		cfg := Successful(ParseArgs([]string{"serve", "-p", "6", "cat"}, stderr))
		Expect(cfg.Type).To(Equal(unix.SOCK_STREAM))
		Expect(stderr).To(gbytes.Say("Protocol specification unimplemented; using stream"))
	})

	DescribeTable("usage errors",
		func(args []string, diagnostic string) {
			stderr := gbytes.NewBuffer()
			Expect(ParseArgs(args, stderr)).Error().To(MatchError(ErrUsage))
			Expect(stderr).To(gbytes.Say(diagnostic))
			Expect(stderr).To(gbytes.Say(`usage: .* \[-a address\] \[-b backlog\] \[-t type\] \[-p protocol\] \[-m max\] command`))
		},
		Entry("no arguments at all", []string{"serve"}, "Missing operand"),
		Entry("flags but no command", []string{"serve", "-b", "7"}, "Missing operand"),
		Entry("unknown option", []string{"serve", "-x", "cat"}, "unknown shorthand flag"),
		Entry("missing option operand", []string{"serve", "cat", "-a"}, "flag needs an argument"),
		Entry("non-integer backlog", []string{"serve", "-b", "many", "cat"}, "invalid argument"),
		Entry("bad address", []string{"serve", "-a", "inet nowhere 80", "cat"},
			"Could not set listening address"),
		Entry("bad socket type", []string{"serve", "-t", "raw", "cat"},
			"unsupported socket type"),
	)

})
