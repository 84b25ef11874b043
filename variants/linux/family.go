/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package linux

import (
	"fmt"
	"strings"
)

// Family describes how to drive the package manager of one distribution.
type Family struct {
	Name string
	// Versions is the semver constraint the variants are registered with.
	Versions string
	// User is the login of the cloud image when the config does not set one.
	User string

	install   string
	inventory string
}

// Families lists the distributions with a snapshot builder.
var Families = []Family{
	{Name: "Fedora", Versions: ">= 36", User: "fedora", install: "dnf -y install", inventory: rpmInventory},
	{Name: "RHEL", Versions: ">= 8", User: "ec2-user", install: "dnf -y install", inventory: rpmInventory},
	{Name: "CentOS", Versions: ">= 7", User: "centos", install: "yum -y install", inventory: rpmInventory},
	{Name: "Ubuntu", Versions: ">= 20.4", User: "ubuntu", install: aptInstall, inventory: dpkgInventory},
	{Name: "Debian", Versions: ">= 10", User: "admin", install: aptInstall, inventory: dpkgInventory},
}

// Targets are the clouds every family is registered for.
var Targets = []string{"ec2", "openstack"}

const (
	rpmInventory  = `rpm -qa --qf '%{NAME} %{VERSION}-%{RELEASE}\n'`
	dpkgInventory = `dpkg-query -W -f='${Package} ${Version}\n'`
	aptInstall    = "DEBIAN_FRONTEND=noninteractive apt-get -y install"
)

// InstallCommand returns the command installing pkgs, or "" when there are
// none.
func (f Family) InstallCommand(pkgs []string) string {
	if len(pkgs) == 0 {
		return ""
	}
	quoted := make([]string, len(pkgs))
	for i, p := range pkgs {
		quoted[i] = shellQuote(p)
	}
	cmd := f.install + " " + strings.Join(quoted, " ")
	if f.install == aptInstall {
		cmd = "apt-get update && " + cmd
	}
	return sudo(cmd)
}

// InventoryCommand lists installed packages as "name version" lines.
func (f Family) InventoryCommand() string { return f.inventory }

// sudo runs cmd through a root shell.
func sudo(cmd string) string {
	return fmt.Sprintf("sudo sh -c %s", shellQuote(cmd))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// copyRootDisk writes the disk backing / to device.
func copyRootDisk(device string) string {
	return sudo(fmt.Sprintf(`sync && dd if=/dev/$(lsblk -no pkname "$(findmnt -n -o SOURCE /)") of=%s bs=4M conv=fsync`, device))
}
