package telemetry

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/sirupsen/logrus"

	"watchpot/internal/config"
)

const (
	defaultThermalPath = "/sys/class/thermal/thermal_zone0/temp"
	defaultRouteProbe  = "8.8.8.8:80"
)

// InterfaceAddr is one IPv4 address bound to a network interface
type InterfaceAddr struct {
	Name    string
	Address string
}

// Snapshot is a point-in-time view of the host. Nil pointers and empty
// strings mean the value could not be collected.
type Snapshot struct {
	CollectedAt    time.Time
	Hostname       string
	Platform       string
	PublicIP       *string
	PrivateIP      *string
	Interfaces     []InterfaceAddr
	CPUTemperature *float64
	CPUPercent     *float64
	MemoryPercent  *float64
	DiskPercent    *float64
	BootTime       *time.Time
	Uptime         *time.Duration
}

// Collector gathers a fresh snapshot; it never fails as a whole
type Collector interface {
	Collect(ctx context.Context) Snapshot
}

// HostCollector reads the local host through gopsutil and sysfs
type HostCollector struct {
	ThermalPath string
	DiskPath    string
	PublicIPURL string
	RouteProbe  string
	CPUSample   time.Duration

	client *http.Client
	log    logrus.FieldLogger
}

// NewHostCollector creates a collector configured from cfg
func NewHostCollector(cfg config.Config, log logrus.FieldLogger) *HostCollector {
	return &HostCollector{
		ThermalPath: defaultThermalPath,
		DiskPath:    "/",
		PublicIPURL: cfg.PublicIPURL,
		RouteProbe:  defaultRouteProbe,
		CPUSample:   time.Second,
		client:      &http.Client{Timeout: cfg.PublicIPTimeout},
		log:         log,
	}
}

// Collect gathers every field independently. A field that fails is logged
// at warning level and left unset.
func (c *HostCollector) Collect(ctx context.Context) Snapshot {
	s := Snapshot{CollectedAt: time.Now()}

	if info, err := host.InfoWithContext(ctx); err != nil {
		c.warn(err, "host")
	} else {
		s.Hostname = info.Hostname
		s.Platform = platform(info)
		if info.BootTime > 0 {
			boot := time.Unix(int64(info.BootTime), 0)
			s.BootTime = &boot
			up := time.Since(boot).Truncate(time.Second)
			s.Uptime = &up
		}
	}
	if s.Hostname == "" {
		if name, err := os.Hostname(); err == nil {
			s.Hostname = name
		}
	}

	if pct, err := cpu.PercentWithContext(ctx, c.CPUSample, false); err != nil || len(pct) == 0 {
		c.warn(err, "cpu_percent")
	} else {
		s.CPUPercent = &pct[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		c.warn(err, "memory_percent")
	} else {
		s.MemoryPercent = &vm.UsedPercent
	}

	if du, err := disk.UsageWithContext(ctx, c.DiskPath); err != nil {
		c.warn(err, "disk_percent")
	} else {
		s.DiskPercent = &du.UsedPercent
	}

	if temp, err := c.temperature(ctx); err != nil {
		c.warn(err, "cpu_temperature")
	} else {
		s.CPUTemperature = &temp
	}

	if ip, err := c.privateIP(); err != nil {
		c.warn(err, "private_ip")
	} else {
		s.PrivateIP = &ip
	}

	if ip, err := c.publicIP(ctx); err != nil {
		c.warn(err, "public_ip")
	} else {
		s.PublicIP = &ip
	}

	if ifaces, err := interfaces(ctx); err != nil {
		c.warn(err, "interfaces")
	} else {
		s.Interfaces = ifaces
	}

	return s
}

func (c *HostCollector) warn(err error, field string) {
	if err == nil {
		err = fmt.Errorf("no data")
	}
	c.log.WithError(err).WithField("field", field).Warn("Could not collect telemetry")
}

// temperature reads the SoC thermal zone, falling back to the first sensor
// gopsutil reports
func (c *HostCollector) temperature(ctx context.Context) (float64, error) {
	if data, err := os.ReadFile(c.ThermalPath); err == nil {
		milli, perr := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
		if perr == nil {
			return milli / 1000, nil
		}
	}

	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	for _, t := range sensors {
		if t.Temperature > 0 {
			return t.Temperature, nil
		}
	}
	if err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("no temperature sensor found")
}

// privateIP returns the source address the kernel would route outbound
// traffic from. Dialing UDP sends no packets.
func (c *HostCollector) privateIP() (string, error) {
	conn, err := net.Dial("udp", c.RouteProbe)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

func (c *HostCollector) publicIP(ctx context.Context) (string, error) {
	if c.PublicIPURL == "" {
		return "", fmt.Errorf("public IP lookup disabled")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PublicIPURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("public IP lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public IP lookup returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public IP lookup returned %q", ip)
	}
	return ip, nil
}

func interfaces(ctx context.Context) ([]InterfaceAddr, error) {
	list, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var out []InterfaceAddr
	for _, iface := range list {
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.To4() == nil {
				continue
			}
			out = append(out, InterfaceAddr{Name: iface.Name, Address: ip.String()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func platform(info *host.InfoStat) string {
	parts := []string{info.OS, info.Platform, info.PlatformVersion, info.KernelVersion, info.KernelArch}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
