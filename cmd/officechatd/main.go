package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/officechat/internal/daemon"
	"github.com/matheus3301/officechat/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.officechat/config.toml)")
	envFlag := flag.String("env", "", "dotenv file (default ~/.officechat/.env)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ProfileName: profileName,
			ConfigPath:  *configFlag,
			EnvPath:     *envFlag,
		}),
	)

	app.Run()
}
