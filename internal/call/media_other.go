//go:build !linux || !cgo

package call

import (
	"fmt"
	"runtime"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// deviceStack has no capture support off Linux; camera/mic capture via
// pion/mediadevices needs platform drivers (V4L2/malgo) that are only wired
// up there. Engines are still built so receive-only sessions work.
type deviceStack struct{}

// NewDeviceStack returns the platform media stack.
func NewDeviceStack() Stack { return deviceStack{} }

func (deviceStack) Acquire(video, audio bool) (MediaStream, error) {
	return nil, fmt.Errorf("%w: no capture support on %s", ErrMediaUnavailable, runtime.GOOS)
}

func (deviceStack) NewEngine(ms MediaStream) (Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine()),
	)
	eng, err := newPionEngine(api)
	if err != nil {
		return nil, err
	}
	addRecvOnlyTransceivers(eng.pc)
	return eng, nil
}
