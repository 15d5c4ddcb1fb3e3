//go:build opencl

package opencl

import "fmt"

// Status is an OpenCL error code.
type Status int32

var statusNames = map[Status]string{
	-1:  "CL_DEVICE_NOT_FOUND",
	-2:  "CL_DEVICE_NOT_AVAILABLE",
	-4:  "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	-5:  "CL_OUT_OF_RESOURCES",
	-6:  "CL_OUT_OF_HOST_MEMORY",
	-7:  "CL_PROFILING_INFO_NOT_AVAILABLE",
	-11: "CL_BUILD_PROGRAM_FAILURE",
	-30: "CL_INVALID_VALUE",
	-33: "CL_INVALID_DEVICE",
	-34: "CL_INVALID_CONTEXT",
	-36: "CL_INVALID_COMMAND_QUEUE",
	-37: "CL_INVALID_HOST_PTR",
	-38: "CL_INVALID_MEM_OBJECT",
	-42: "CL_INVALID_BINARY",
	-44: "CL_INVALID_PROGRAM",
	-46: "CL_INVALID_KERNEL_NAME",
	-48: "CL_INVALID_KERNEL",
	-49: "CL_INVALID_ARG_INDEX",
	-50: "CL_INVALID_ARG_VALUE",
	-51: "CL_INVALID_ARG_SIZE",
	-52: "CL_INVALID_KERNEL_ARGS",
	-54: "CL_INVALID_WORK_GROUP_SIZE",
	-55: "CL_INVALID_WORK_ITEM_SIZE",
	-58: "CL_INVALID_EVENT",
	-63: "CL_INVALID_GLOBAL_WORK_SIZE",

	-1001: "CL_PLATFORM_NOT_FOUND_KHR",
}

func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CL error %d", int32(s))
}

func check(op string, code int32) error {
	if code == 0 {
		return nil
	}
	return fmt.Errorf("opencl %s: %w", op, Status(code))
}
