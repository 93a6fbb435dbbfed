package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт группу команд для управления триггерами.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage triggers",
	}

	cmd.AddCommand(
		newTriggerListCmd(clientFn, outputFn),
		newTriggerEnableCmd(clientFn, outputFn),
		newTriggerDisableCmd(clientFn, outputFn),
		newTriggerTestCmd(clientFn, outputFn),
	)

	return cmd
}

func newTriggerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			triggers, err := client.ListTriggers()
			if err != nil {
				return err
			}

			if mode != "" {
				filtered := triggers[:0]
				for _, t := range triggers {
					if t.Mode == mode {
						filtered = append(filtered, t)
					}
				}
				triggers = filtered
			}

			headers := []string{"FLOW_ID", "NAME", "MODE", "CONNECTOR", "ENABLED", "SCHEDULE"}
			rows := make([][]string, len(triggers))
			for i, t := range triggers {
				rows[i] = []string{t.FlowID, t.Name, t.Mode, t.Connector, strconv.FormatBool(t.Enabled), scheduleString(t)}
			}

			out.Print(headers, rows, triggers)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "Filter by mode (POLLING, WEBHOOK, SUBMIT)")

	return cmd
}

func newTriggerEnableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "enable FLOW_ID NAME",
		Short: "Enable a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.EnableTrigger(args[0], args[1])
			if err != nil {
				return err
			}

			fields := [][2]string{
				{"Trigger", resp.Name},
				{"Mode", resp.Mode},
				{"Enabled", strconv.FormatBool(resp.Enabled)},
			}
			if resp.Watermark != nil {
				fields = append(fields, [2]string{"Watermark", strconv.FormatInt(*resp.Watermark, 10)})
			}
			if id, ok := resp.Subscription["external_id"].(string); ok {
				fields = append(fields, [2]string{"Subscription", id})
			}

			out.Fields(fields, resp)
			return nil
		},
	}
}

func newTriggerDisableCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "disable FLOW_ID NAME",
		Short: "Disable a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DisableTrigger(args[0], args[1]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Trigger %s disabled", args[1]))
			return nil
		},
	}
}

func newTriggerTestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "test FLOW_ID NAME",
		Short: "Fetch sample payloads without side effects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.TestTrigger(args[0], args[1])
			if err != nil {
				return err
			}

			out.JSON(resp.Samples)
			return nil
		},
	}
}

func scheduleString(t TriggerResponse) string {
	switch {
	case t.Schedule.Cron != "":
		if t.Schedule.Timezone != "" {
			return t.Schedule.Cron + " (" + t.Schedule.Timezone + ")"
		}
		return t.Schedule.Cron
	case t.Schedule.IntervalSec > 0:
		return "every " + strconv.Itoa(t.Schedule.IntervalSec) + "s"
	default:
		return "-"
	}
}
