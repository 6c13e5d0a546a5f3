package scaling

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	loadAvgPath = "/proc/loadavg"
	memInfoPath = "/proc/meminfo"
)

// permissiveFreeMemMB stands in for MemAvailable on hosts without a readable
// proc filesystem, leaving scale-up gated by policy checks alone.
const permissiveFreeMemMB = 1 << 20

// Resources is a point-in-time host sample.
type Resources struct {
	// Load1 is the 1-minute load average.
	Load1 float64

	// LoadPercent is Load1 normalized by core count, as a percentage.
	LoadPercent float64

	// FreeMemMB is MemAvailable in megabytes.
	FreeMemMB int

	// Sampled is false when neither proc file could be read and the values
	// above are the permissive fallback.
	Sampled bool
}

// Sampler reports host resources. The engine takes one so tests can pin the
// host state.
type Sampler func() Resources

// SampleHost reads /proc/loadavg and /proc/meminfo. Hosts without a readable
// proc filesystem (macOS, containers with masked proc) get permissive values:
// zero load and a large free-memory figure.
func SampleHost() Resources {
	return sampleFrom(loadAvgPath, memInfoPath)
}

func sampleFrom(loadPath, memPath string) Resources {
	res := Resources{FreeMemMB: permissiveFreeMemMB}

	if load, ok := readLoad1(loadPath); ok {
		res.Load1 = load
		res.Sampled = true
		if n := runtime.NumCPU(); n > 0 {
			res.LoadPercent = load * 100 / float64(n)
		}
	}
	if mb, ok := readMemAvailableMB(memPath); ok {
		res.FreeMemMB = mb
		res.Sampled = true
	}
	return res
}

// readLoad1 parses the first field of a loadavg file.
func readLoad1(path string) (float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return load, true
}

// readMemAvailableMB scans a meminfo file for the MemAvailable line, which is
// reported in kB.
func readMemAvailableMB(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, false
		}
		return kb / 1024, true
	}
	return 0, false
}
