package pods

import (
	"errors"

	"github.com/openfluke/prefixscan/scan"
)

type ScanIn struct {
	In        []uint32
	Inclusive bool
	// Initial, when set, is added in front of every output.
	Initial *uint32
	// BlockLength of 0 selects the device maximum.
	BlockLength int
}
type ScanOut struct {
	Out []uint32
	// Levels is the number of block scan levels the device ran; 0 on the
	// host path.
	Levels int
}

type ScanPod struct{}

func (ScanPod) Name() string { return "primitives/scan" }

func (ScanPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ScanIn)
	if !ok {
		return nil, errors.New("ScanIn expected")
	}
	src, err := scan.Encode(scan.SumU32, args.In)
	if err != nil {
		return nil, err
	}
	var seed []byte
	if args.Initial != nil {
		seed, _ = scan.EncodeValue(scan.SumU32, *args.Initial)
	}

	raw, levels, err := runScan(x, scanJob{
		template:    scan.SumU32,
		source:      src,
		exclusive:   !args.Inclusive,
		seed:        seed,
		blockLength: args.BlockLength,
	})
	if err != nil {
		return nil, err
	}
	out, err := scan.Decode[uint32](scan.SumU32, raw)
	if err != nil {
		return nil, err
	}
	return ScanOut{Out: out, Levels: levels}, nil
}

type scanJob struct {
	template    scan.Template
	source      []byte
	exclusive   bool
	seed        []byte
	blockLength int
}

// runScan runs job on the attached device, or on the host reference when the
// context has none.
func runScan(x *ExecContext, job scanJob) ([]byte, int, error) {
	if !x.UseDevice {
		return scan.Reference(job.template, job.source, job.exclusive, job.seed), 0, nil
	}
	if x.Device == nil {
		return nil, 0, ErrNoDevice
	}
	if len(job.source) == 0 {
		return []byte{}, 0, nil
	}

	buf, err := x.Device.CreateBufferInit("pod_source", job.source)
	if err != nil {
		return nil, 0, err
	}
	defer buf.Destroy()

	cfg := scan.Config{
		Source:       buf,
		Template:     job.template,
		BlockLength:  job.blockLength,
		Exclusive:    job.exclusive,
		InitialValue: job.seed,
		Label:        "pod",
	}
	if x.Cache != nil {
		cfg.PipelineCache = func() (scan.PipelineCache, error) { return x.Cache, nil }
	}
	p, err := scan.New(x.Device, cfg, scan.WithLogger(x.Logger))
	if err != nil {
		return nil, 0, err
	}
	defer p.Destroy()

	levels, err := p.Levels()
	if err != nil {
		return nil, 0, err
	}
	out, err := p.Scan(x.Ctx)
	if err != nil {
		return nil, 0, err
	}
	return out, len(levels), nil
}
