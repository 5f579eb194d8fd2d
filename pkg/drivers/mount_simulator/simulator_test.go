package mount_simulator

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"lx200/pkg/coord"
	"lx200/pkg/detect"
	"lx200/pkg/dialect"
	"lx200/pkg/mount"
	"lx200/pkg/protocol"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestController(t *testing.T) (*Controller, *fakeClock) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	clk := &fakeClock{t: time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)}
	return newController(DefaultConfig(), clk.now, logger), clk
}

func setClock(c *Controller) {
	c.Handle(":SC03/05/24#")
	c.Handle(":SG+00#")
	c.Handle(":SL20:00:00#")
}

func TestHandle(t *testing.T) {
	c, _ := newTestController(t)

	tests := []struct {
		command  string
		expected string
	}{
		{":GVP#", "AM5#"},
		{":GV#", "1.3.2#"},
		{":GD#", "+90*00:00#"},
		{":GC#", "01/01/01#"},
		{":GL#", "00:00:00#"},
		{":GG#", "+00#"},
		{":Gt#", "+51*29#"},
		{":Gg#", "000*00#"},
		{":GU#", "nNHG#"},
		{":GAT#", "0#"},
		{":Ggr#", "0.50#"},
		{":GTa#", "00+00#"},
		{":MS#", "e7#"},
		{":Sr25:00:00#", "0"},
		{":Sd+45*00:00#", "1"},
		{":STa11+05#", "1#"},
		{":GTa#", "11+05#"},
		{":STa1#", "0#"},
		{":SBu2#", ""},
		{":GBu#", "2#"},
		{":Rg0.3#", ""},
		{":Ggr#", "0.30#"},
		{":TL#", ""},
		{":GT#", "1#"},
		{":Te#", "1"},
		{":GAT#", "1#"},
		{":NSC#", "1"},
		{":XYZ#", ""},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Handle(tt.command))
		})
	}
}

func TestClock(t *testing.T) {
	c, clk := newTestController(t)
	setClock(c)

	assert.Equal(t, "03/05/24#", c.Handle(":GC#"))
	assert.Equal(t, "20:00:00#", c.Handle(":GL#"))

	clk.add(90 * time.Second)
	assert.Equal(t, "20:01:30#", c.Handle(":GL#"))

	// changing the offset keeps the wall clock
	assert.Equal(t, "1", c.Handle(":SG-02#"))
	assert.Equal(t, "20:01:30#", c.Handle(":GL#"))
	assert.Equal(t, "-02#", c.Handle(":GG#"))
	assert.Equal(t, "0", c.Handle(":SL25:00:00#"))
}

func TestSlew(t *testing.T) {
	c, clk := newTestController(t)
	setClock(c)

	lst := c.lst(clk.now())
	require.Equal(t, "1", c.Handle(":Sr"+coord.FormatHours(lst)+"#"))
	require.Equal(t, "1", c.Handle(":Sd+40*00:00#"))
	require.Equal(t, "0", c.Handle(":MS#"))
	assert.NotContains(t, c.Handle(":GU#"), "N")
	assert.Equal(t, "e4#", c.Handle(":MS#"))

	clk.add(2 * time.Minute)
	status := c.Handle(":GU#")
	assert.Contains(t, status, "N")
	assert.NotContains(t, status, "n")
	assert.NotContains(t, status, "H")
	assert.Equal(t, "+40*00:00#", c.Handle(":GD#"))
	assert.Equal(t, coord.FormatHours(lst)+"#", c.Handle(":GR#"))

	// below the horizon
	require.Equal(t, "1", c.Handle(":Sd-80*00:00#"))
	assert.Equal(t, "e5#", c.Handle(":MS#"))
}

func TestParkAndHome(t *testing.T) {
	c, clk := newTestController(t)
	c.Handle(":Sd+10*00:00#")
	c.Handle(":CM#")
	c.Handle(":Te#")

	c.Handle(":hP#")
	assert.NotContains(t, c.Handle(":GU#"), "N")
	clk.add(time.Minute)
	status := c.Handle(":GU#")
	assert.True(t, strings.HasPrefix(status, "nN"), status)
	assert.Contains(t, status, "P")

	// parked mounts ignore manual motion
	c.Handle(":Mn#")
	assert.Contains(t, c.Handle(":GU#"), "N")

	c.Handle(":Sd+10*00:00#")
	c.Handle(":CM#")
	c.Handle(":hC#")
	clk.add(time.Minute)
	assert.Contains(t, c.Handle(":GU#"), "H")
	assert.Equal(t, "+90*00:00#", c.Handle(":GD#"))
}

func TestMoveAndGuide(t *testing.T) {
	c, clk := newTestController(t)
	c.Handle(":Sd+10*00:00#")
	c.Handle(":CM#")
	c.Handle(":Te#")

	c.Handle(":R1#")
	c.Handle(":Mn#")
	assert.NotContains(t, c.Handle(":GU#"), "N")
	clk.add(4 * time.Minute)
	c.Handle(":Qn#")
	assert.Contains(t, c.Handle(":GU#"), "N")
	_, dec := c.Position()
	assert.InDelta(t, 10+240*arcsecPerSec/3600, dec, 1e-6)

	c.Handle(":Mgs2000#")
	_, after := c.Position()
	assert.InDelta(t, dec-0.5*arcsecPerSec*2/3600, after, 1e-6)
}

func TestTrackingError(t *testing.T) {
	c, _ := newTestController(t)
	c.Handle(":Te#")
	c.StopTracking(8)
	assert.Equal(t, "e8#", c.Handle(":GAT#"))
	assert.Contains(t, c.Handle(":GU#"), "n")
}

func TestLink(t *testing.T) {
	c, _ := newTestController(t)
	tr, err := c.Dialer().Dial(context.Background())
	require.NoError(t, err)

	_, err = tr.Write([]byte(":GV"))
	require.NoError(t, err)
	_, err = tr.ReadByte(time.Now())
	assert.ErrorIs(t, err, protocol.ErrTimeout)

	_, err = tr.Write([]byte("P#"))
	require.NoError(t, err)
	var reply []byte
	for {
		b, err := tr.ReadByte(time.Now())
		if err != nil {
			break
		}
		reply = append(reply, b)
	}
	assert.Equal(t, "AM5#", string(reply))

	require.NoError(t, tr.Close())
	_, err = tr.Write([]byte(":GR#"))
	assert.Error(t, err)
}

func TestSession(t *testing.T) {
	c, clk := newTestController(t)
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	ctx := context.Background()

	res, exec, err := detect.ResolveWithFallback(ctx, func(int) protocol.Dialer { return c.Dialer() }, []int{0}, dialect.AutoDetect, detect.Options{Timeout: time.Second, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, dialect.ZwoAM, res.Dialect)
	assert.Equal(t, "AM5", res.Product)

	s, err := mount.NewSession(exec, res.Dialect, res.Product, mount.Options{
		Site:     &mount.Site{Latitude: 48.5, Longitude: 2.25},
		Location: time.UTC,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx))

	info := s.Info()
	assert.Equal(t, "1.3.2", info.Firmware)
	assert.Equal(t, 50, info.GuideRate)
	assert.InDelta(t, 48.5, c.Config().Latitude, 1.0/60)
	assert.InDelta(t, 2.25, c.Config().Longitude, 1.0/60)
	assert.True(t, c.timeOK)

	require.NoError(t, s.Park(ctx))
	clk.add(time.Minute)
	st, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.True(t, st.Parked())
	assert.False(t, st.Tracking)

	ok, err := exec.Connection().Release()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "sim.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st, err := NewStore(db)
	require.NoError(t, err)

	cfg, err := st.GetSimulatorConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg.Product = "AM3"
	require.NoError(t, st.SetSimulatorConfig(cfg))
	got, err := st.GetSimulatorConfig()
	require.NoError(t, err)
	assert.Equal(t, "AM3", got.Product)

	cfg.GuideRate = 2
	assert.Error(t, st.SetSimulatorConfig(cfg))
}
