//go:build !unix

package rnsd

import (
	"os"
	"os/exec"
)

func setProcAttr(*exec.Cmd) {}

func terminate(p *os.Process) error {
	return p.Kill()
}
