// Command agentmesh manages and runs agents in an authenticated message
// mesh: mesh/key initialization, invite issuance, joining, the daemon,
// and one-shot send/ask/health operations.
package main

import (
	"fmt"
	"os"
)

const usage = `agentmesh - authenticated peer-to-peer agent mesh

Usage:
  agentmesh init    --mesh NAME --agent NAME --url URL
  agentmesh keygen  --mesh NAME
  agentmesh invite  --mesh NAME --agent NAME --node-pub KEY [--ttl DUR]
  agentmesh join    --mesh NAME --seed URL --token TOKEN --root-pub FILE
  agentmesh start   --mesh NAME --agent NAME [--processor CMD]
  agentmesh stop    --mesh NAME
  agentmesh send    --mesh NAME --from NAME --to NAME PAYLOAD
  agentmesh ask     --mesh NAME --from NAME --to NAME [--timeout DUR] PAYLOAD
  agentmesh health  --mesh NAME

Run 'agentmesh COMMAND -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "keygen":
		err = cmdKeygen(os.Args[2:])
	case "invite":
		err = cmdInvite(os.Args[2:])
	case "join":
		err = cmdJoin(os.Args[2:])
	case "start":
		err = cmdStart(os.Args[2:])
	case "stop":
		err = cmdStop(os.Args[2:])
	case "send":
		err = cmdSend(os.Args[2:])
	case "ask":
		err = cmdAsk(os.Args[2:])
	case "health":
		err = cmdHealth(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentmesh %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}
