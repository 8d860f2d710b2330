// Package monitoring serves the state of a running kernel over HTTP.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/mem/kalloc"
	"github.com/sarchlab/kcore/monitoring/web"
	"github.com/sarchlab/kcore/sim/id"
)

// A Component is any named kernel object whose fields can be inspected.
type Component interface {
	Name() string
}

// An AllocatorInspector reports the state of the page allocator.
type AllocatorInspector interface {
	Component
	Stats() kalloc.Stats
}

// A CacheInspector reports the state of the buffer cache. Stats takes bucket
// locks and therefore needs a context bound to a core of its own.
type CacheInspector interface {
	Component
	Stats(ctx context.Context) bcache.Stats
}

// Monitor turns a kernel into a server that reports its state.
type Monitor struct {
	mu         sync.Mutex
	components []Component
	allocator  AllocatorInspector
	cache      CacheInspector
	cacheCtx   context.Context
	portNumber int
	ids        id.Generator

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{ids: id.NewParallel()}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterComponent registers a component to be inspected.
func (m *Monitor) RegisterComponent(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.components = append(m.components, c)
}

// RegisterAllocator registers the page allocator.
func (m *Monitor) RegisterAllocator(a AllocatorInspector) {
	m.RegisterComponent(a)

	m.mu.Lock()
	m.allocator = a
	m.mu.Unlock()
}

// RegisterCache registers the buffer cache. ctx is used for every Stats call.
func (m *Monitor) RegisterCache(ctx context.Context, c CacheInspector) {
	m.RegisterComponent(c)

	m.mu.Lock()
	m.cache = c
	m.cacheCtx = ctx
	m.mu.Unlock()
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the routes of the monitor.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_components", m.listComponents)
	r.HandleFunc("/api/component/{name}", m.listComponentDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/kalloc", m.allocatorStats)
	r.HandleFunc("/api/bcache", m.cacheStats)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(web.Handler())

	return r
}

// StartServer starts serving in the background and returns the URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring kernel with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			log.Panic(err)
		}
	}()

	return url
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.Name())
	}
	m.mu.Unlock()

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	component := m.findComponentOr404(w, name)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	component := m.findComponentOr404(w, req.CompName)
	if component == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(component)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) Component {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.components {
		if c.Name() == name {
			return c
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

type allocatorRsp struct {
	Name       string `json:"name"`
	FreePerCPU []int  `json:"free_per_cpu"`
	FreeBytes  uint64 `json:"free_bytes"`
}

func (m *Monitor) allocatorStats(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	a := m.allocator
	m.mu.Unlock()

	if a == nil {
		http.Error(w, "No allocator registered", http.StatusNotFound)
		return
	}

	s := a.Stats()
	writeJSON(w, allocatorRsp{
		Name:       a.Name(),
		FreePerCPU: s.FreePerCPU,
		FreeBytes:  s.FreeBytes,
	})
}

type cacheRsp struct {
	Name      string `json:"name"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Occupancy []int  `json:"occupancy"`
	Held      int    `json:"held"`
}

func (m *Monitor) cacheStats(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	c, ctx := m.cache, m.cacheCtx
	m.mu.Unlock()

	if c == nil {
		http.Error(w, "No buffer cache registered", http.StatusNotFound)
		return
	}

	s := c.Stats(ctx)
	writeJSON(w, cacheRsp{
		Name:      c.Name(),
		Hits:      s.Hits,
		Misses:    s.Misses,
		Evictions: s.Evictions,
		Occupancy: s.Occupancy,
		Held:      s.Held,
	})
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Status())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
