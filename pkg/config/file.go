package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/types"
	"github.com/batteryhealth/bhc/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		DeviceType:            ptr.To(0),
		ChargingMode:          ptr.To(string(types.ModeFullCapacity)),
		PolkitStatus:          ptr.To(types.NotInstalled.String()),
		CtlPath:               ptr.To(""),
		ShowNotifications:     ptr.To(true),
		ResourceDir:           ptr.To("/usr/share/batteryhealthcharging"),
		ServiceName:           ptr.To("batteryhealthchargingctl"),
		CommandTimeoutSeconds: ptr.To(30),
		// Empty disables periodic re-application.
		ReapplySchedule: ptr.To(""),
	}

	defaultEndThresholds = map[types.ChargingMode]int{
		types.ModeFullCapacity: 100,
		types.ModeBalanced:     80,
		types.ModeMaxLifespan:  60,
		types.ModeAdaptive:     100,
		types.ModeExpress:      100,
	}

	defaultStartThresholds = map[types.ChargingMode]int{
		types.ModeFullCapacity: 95,
		types.ModeBalanced:     75,
		types.ModeMaxLifespan:  55,
		types.ModeAdaptive:     95,
		types.ModeExpress:      95,
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// DefaultPath returns $XDG_CONFIG_HOME/bhc/config.json, falling back to ~/.config.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.TempDir(), ".config")
	}
	return filepath.Join(dir, "bhc", "config.json")
}

// DefaultSocketPath returns $XDG_RUNTIME_DIR/bhc.sock, falling back to a
// per-user name in the temp dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "bhc.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("bhc-%d.sock", os.Getuid()))
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields fall back to defaults.
type RawFileConfig struct {
	DeviceType            *int           `json:"deviceType,omitempty"`
	ChargingMode          *string        `json:"chargingMode,omitempty"`
	Thresholds            map[string]int `json:"thresholds,omitempty"`
	PolkitStatus          *string        `json:"polkitStatus,omitempty"`
	CtlPath               *string        `json:"ctlPath,omitempty"`
	ShowNotifications     *bool          `json:"showNotifications,omitempty"`
	ResourceDir           *string        `json:"resourceDir,omitempty"`
	ServiceName           *string        `json:"serviceName,omitempty"`
	CommandTimeoutSeconds *int           `json:"commandTimeoutSeconds,omitempty"`
	ReapplySchedule       *string        `json:"reapplySchedule,omitempty"`
}

// ThresholdKey returns the settings key for a threshold, e.g.
// current-bal-end-threshold or current-max-start-threshold2.
func ThresholdKey(mode types.ChargingMode, kind string, battery int) string {
	key := fmt.Sprintf("current-%s-%s-threshold", mode, kind)
	if battery == Battery2 {
		key += "2"
	}
	return key
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	thresholds := make(map[string]int)
	for _, mode := range types.ChargingModes {
		for _, battery := range []int{Battery1, Battery2} {
			thresholds[ThresholdKey(mode, "end", battery)] = c.EndThreshold(mode, battery)
			thresholds[ThresholdKey(mode, "start", battery)] = c.StartThreshold(mode, battery)
		}
	}

	rawConfig := &RawFileConfig{
		DeviceType:            ptr.To(c.DeviceType()),
		ChargingMode:          ptr.To(string(c.ChargingMode())),
		Thresholds:            thresholds,
		PolkitStatus:          ptr.To(c.PolkitStatus().String()),
		CtlPath:               ptr.To(c.CtlPath()),
		ShowNotifications:     ptr.To(c.ShowNotifications()),
		ResourceDir:           ptr.To(c.ResourceDir()),
		ServiceName:           ptr.To(c.ServiceName()),
		CommandTimeoutSeconds: ptr.To(int(c.CommandTimeout() / time.Second)),
		ReapplySchedule:       ptr.To(c.ReapplySchedule()),
	}

	return rawConfig, nil
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) DeviceType() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().DeviceType, *defaultFileConfig.DeviceType)
}

func (f *File) ChargingMode() types.ChargingMode {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := ptr.Deref(f.raw().ChargingMode, *defaultFileConfig.ChargingMode)
	mode, err := types.ParseChargingMode(s)
	if err != nil {
		logrus.Warnf("invalid charging mode %q in config, using %s", s, types.ModeFullCapacity)
		return types.ModeFullCapacity
	}
	return mode
}

func (f *File) threshold(key string, def int) int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if v, ok := f.raw().Thresholds[key]; ok {
		return v
	}
	return def
}

func (f *File) EndThreshold(mode types.ChargingMode, battery int) int {
	def, ok := defaultEndThresholds[mode]
	if !ok {
		def = 100
	}
	return f.threshold(ThresholdKey(mode, "end", battery), def)
}

func (f *File) StartThreshold(mode types.ChargingMode, battery int) int {
	def, ok := defaultStartThresholds[mode]
	if !ok {
		def = 95
	}
	return f.threshold(ThresholdKey(mode, "start", battery), def)
}

func (f *File) PolkitStatus() types.InstallStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := ptr.Deref(f.raw().PolkitStatus, *defaultFileConfig.PolkitStatus)
	status, err := types.ParseInstallStatus(s)
	if err != nil {
		logrus.Warnf("invalid polkit status %q in config, assuming %s", s, types.NotInstalled)
	}
	return status
}

func (f *File) CtlPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().CtlPath, *defaultFileConfig.CtlPath)
}

func (f *File) ShowNotifications() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().ShowNotifications, *defaultFileConfig.ShowNotifications)
}

func (f *File) ResourceDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().ResourceDir, *defaultFileConfig.ResourceDir)
}

func (f *File) ServiceName() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().ServiceName, *defaultFileConfig.ServiceName)
}

func (f *File) CommandTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()

	secs := ptr.Deref(f.raw().CommandTimeoutSeconds, *defaultFileConfig.CommandTimeoutSeconds)
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

func (f *File) ReapplySchedule() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(f.raw().ReapplySchedule, *defaultFileConfig.ReapplySchedule)
}

func (f *File) SetDeviceType(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().DeviceType = &i
}

func (f *File) SetChargingMode(m types.ChargingMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ChargingMode = ptr.To(string(m))
}

func (f *File) setThreshold(key string, value int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := f.raw()
	if c.Thresholds == nil {
		c.Thresholds = make(map[string]int)
	}
	c.Thresholds[key] = value
}

func (f *File) SetEndThreshold(mode types.ChargingMode, battery int, value int) {
	f.setThreshold(ThresholdKey(mode, "end", battery), value)
}

func (f *File) SetStartThreshold(mode types.ChargingMode, battery int, value int) {
	f.setThreshold(ThresholdKey(mode, "start", battery), value)
}

func (f *File) SetPolkitStatus(s types.InstallStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().PolkitStatus = ptr.To(s.String())
}

func (f *File) SetCtlPath(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().CtlPath = &p
}

func (f *File) SetShowNotifications(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ShowNotifications = &b
}

func (f *File) SetReapplySchedule(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ReapplySchedule = &s
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	if f.filepath == "" {
		return pkgerrors.New("config has no file path")
	}

	err := os.MkdirAll(filepath.Dir(f.filepath), 0755)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create config directory for %s", f.filepath)
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	mode := f.ChargingMode()
	return logrus.Fields{
		"deviceType":        f.DeviceType(),
		"chargingMode":      mode,
		"endThreshold":      f.EndThreshold(mode, Battery1),
		"polkitStatus":      f.PolkitStatus().String(),
		"ctlPath":           f.CtlPath(),
		"showNotifications": f.ShowNotifications(),
		"resourceDir":       f.ResourceDir(),
		"reapplySchedule":   f.ReapplySchedule(),
	}
}
