package services

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/voicelab/internal/cache"
	"github.com/yoockh/voicelab/internal/models"
	"github.com/yoockh/voicelab/internal/utils"
)

const (
	minPhysicalCores = 4
	minMemoryGB      = 16
	minFreeDiskGB    = 50

	bytesPerGB = 1 << 30
)

var systemCacheKey = cache.Key("system:resources")

// HostProbe reads raw host facts. GopsutilProbe is the real one.
type HostProbe interface {
	PhysicalCores(ctx context.Context) (int, error)
	TotalMemory(ctx context.Context) (uint64, error)
	FreeDisk(ctx context.Context, path string) (uint64, error)
	OSName(ctx context.Context) string
	HasGPU(ctx context.Context) bool
}

type SystemService interface {
	Resources(ctx context.Context) (*models.SystemResources, error)
}

type SystemConfig struct {
	DiskPath string
	Samples  int
	Delay    time.Duration
	TTL      time.Duration
}

type systemService struct {
	probe HostProbe
	cache cache.Cache
	cfg   SystemConfig
	log   *logrus.Logger
}

// NewSystemService caches probe results in c for cfg.TTL; c may be nil.
func NewSystemService(probe HostProbe, c cache.Cache, cfg SystemConfig, log *logrus.Logger) SystemService {
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.Samples <= 0 {
		cfg.Samples = 2
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &systemService{probe: probe, cache: c, cfg: cfg, log: log}
}

func (s *systemService) Resources(ctx context.Context) (*models.SystemResources, error) {
	const op = "SystemService.Resources"

	if s.cache != nil {
		var cached models.SystemResources
		if hit, err := s.cache.GetJSON(ctx, systemCacheKey, &cached); err == nil && hit {
			return &cached, nil
		} else if err != nil {
			s.log.WithError(err).Warn("system probe cache read failed")
		}
	}

	cores, err := s.probe.PhysicalCores(ctx)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read cpu count", err)
	}
	memGB, err := s.average(ctx, func() (float64, error) {
		v, err := s.probe.TotalMemory(ctx)
		return float64(v) / bytesPerGB, err
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read memory", err)
	}
	diskGB, err := s.average(ctx, func() (float64, error) {
		v, err := s.probe.FreeDisk(ctx, s.cfg.DiskPath)
		return float64(v) / bytesPerGB, err
	})
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to read disk usage", err)
	}

	out := &models.SystemResources{
		CPUCount:        cores,
		TotalMemoryGB:   memGB,
		FreeDiskSpaceGB: diskGB,
		OSInfo:          s.probe.OSName(ctx),
		HasGPU:          s.probe.HasGPU(ctx),
	}
	out.IsCompatible = Compatible(out)

	if s.cache != nil && s.cfg.TTL > 0 {
		if err := s.cache.SetJSON(ctx, systemCacheKey, out, s.cfg.TTL); err != nil {
			s.log.WithError(err).Warn("system probe cache write failed")
		}
	}
	return out, nil
}

// average takes cfg.Samples readings cfg.Delay apart.
func (s *systemService) average(ctx context.Context, read func() (float64, error)) (float64, error) {
	var sum float64
	for i := 0; i < s.cfg.Samples; i++ {
		if i > 0 && s.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.cfg.Delay):
			}
		}
		v, err := read()
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(s.cfg.Samples), nil
}

// Compatible reports whether the host can run the speech models locally.
func Compatible(r *models.SystemResources) bool {
	return r.CPUCount >= minPhysicalCores &&
		r.TotalMemoryGB >= minMemoryGB &&
		r.FreeDiskSpaceGB >= minFreeDiskGB &&
		(r.OSInfo == "Linux" || r.OSInfo == "Windows") &&
		r.HasGPU
}

type GopsutilProbe struct{}

func (GopsutilProbe) PhysicalCores(ctx context.Context) (int, error) {
	n, err := cpu.CountsWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("no physical cores reported")
	}
	return n, nil
}

func (GopsutilProbe) TotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

func (GopsutilProbe) FreeDisk(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// OSName returns Linux, Windows, Darwin, ... in the capitalised form used
// in the compatibility check.
func (GopsutilProbe) OSName(ctx context.Context) string {
	name := runtime.GOOS
	if info, err := host.InfoWithContext(ctx); err == nil && info.OS != "" {
		name = info.OS
	}
	if name == "" {
		return "Unknown"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (GopsutilProbe) HasGPU(context.Context) bool {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	_, err := exec.LookPath("nvidia-smi")
	return err == nil
}
