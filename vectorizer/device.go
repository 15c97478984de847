package vectorizer

import (
	"os"
	"os/exec"
	"runtime"
)

// Device identifies the compute device an embedding model runs on.
type Device string

const (
	// DeviceCUDA is an NVIDIA GPU driven through the CUDA execution
	// provider.
	DeviceCUDA Device = "cuda"

	// DeviceMPS is the Apple-silicon accelerator.
	DeviceMPS Device = "mps"

	// DeviceCPU is general-purpose CPU inference.
	DeviceCPU Device = "cpu"

	// DeviceRemote marks hosted API backends where the compute device is
	// not under local control.
	DeviceRemote Device = "remote"
)

// DetectDevice picks the best available compute device with the priority
// CUDA > MPS > CPU. It is evaluated once at vectorizer construction and
// fixed for the process lifetime; the choice is never re-evaluated per call.
func DetectDevice() Device {
	if cudaAvailable() {
		return DeviceCUDA
	}

	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return DeviceMPS
	}

	return DeviceCPU
}

func cudaAvailable() bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}

	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}

	return false
}
