package avconv

import (
	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avblur/types"
)

func HardwareDeviceTypeToAstiav(t types.HardwareDeviceType) astiav.HardwareDeviceType {
	return astiav.HardwareDeviceType(t)
}
