//go:build !nogpu

package halgpu

// Import Vulkan backend so it registers via init().
import _ "github.com/gogpu/wgpu/hal/vulkan"
