package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/naveego/live-go/message"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call <address> <method> [json-param]",
	Short: "Call a method on a peer and print the result",
	Example: `  livectl call 5f0c... Echo.Say '{"text":"hi"}'
  livectl call "" Live.Status`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		param, err := parseParam(args[2:])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Disconnect()

		if callTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, callTimeout)
			defer cancel()
		}

		start := time.Now()
		result, err := c.Call(ctx, args[0], args[1], param)
		if err != nil {
			var info *message.ErrorInfo
			if errors.As(err, &info) {
				pterm.Error.Printfln("%s failed with code %d: %s", args[1], info.Code, info.Message)
				if len(info.Data) > 0 {
					pterm.Println(indent(info.Data))
				}
				return fmt.Errorf("remote error %d", info.Code)
			}
			return err
		}

		pterm.Success.Printfln("%s answered in %s", args[1], time.Since(start).Round(time.Millisecond))
		pterm.Println(indent(result))
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify <method> [json-param]",
	Short: "Emit a notification to every listening peer",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		param, err := parseParam(args[1:])
		if err != nil {
			return err
		}
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Disconnect()

		if err := c.Notify(args[0], param); err != nil {
			return err
		}
		pterm.Success.Printfln("notified %s", args[0])
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVarP(&callTimeout, "timeout", "t", 10*time.Second, "give up waiting after this long (0 = config call_timeout)")
}

// parseParam reads the optional JSON parameter argument.
func parseParam(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return json.RawMessage("null"), nil
	}
	raw := json.RawMessage(args[0])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("param is not valid JSON: %s", args[0])
	}
	return raw, nil
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
