package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для ответа на runs и просмотра корреляции.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Respond to runs started by submit triggers",
	}

	cmd.AddCommand(
		newRunRespondCmd(clientFn, outputFn),
		newRunCompleteCmd(clientFn, outputFn),
		newRunCorrelationCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunRespondCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status int
	var headers map[string]string
	var body string

	cmd := &cobra.Command{
		Use:   "respond RUN_ID",
		Short: "Deliver a response to the waiting submitter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := RespondRequest{Status: status, Headers: headers}
			if body != "" {
				var v any
				if err := json.Unmarshal([]byte(body), &v); err != nil {
					// Не JSON: отправляем как строку
					v = body
				}
				req.Body = v
			}

			res, err := client.Respond(args[0], req)
			if err != nil {
				return err
			}

			printResolution(out, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&status, "status", 0, "HTTP status code (default 200)")
	cmd.Flags().StringToStringVar(&headers, "header", nil, "Response header key=value (repeatable)")
	cmd.Flags().StringVar(&body, "body", "", "Response body (JSON or plain text)")

	return cmd
}

func newRunCompleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "complete RUN_ID",
		Short: "Report that a run finished without a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.Complete(args[0])
			if err != nil {
				return err
			}

			printResolution(out, res)
			return nil
		},
	}
}

func newRunCorrelationCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "correlation RUN_ID",
		Short: "Show how a submission was resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rec, err := client.Correlation(args[0])
			if err != nil {
				return err
			}

			resolved := rec.ResolvedAt
			if resolved == "" {
				resolved = "-"
			}
			out.Fields([][2]string{
				{"Run", rec.RunID},
				{"State", rec.State},
				{"Created", rec.CreatedAt},
				{"Deadline", rec.Deadline},
				{"Resolved", resolved},
			}, rec)
			return nil
		},
	}
}

func printResolution(out *Output, res *ResolutionResponse) {
	if !res.Accepted {
		out.Success(fmt.Sprintf("Run %s was already resolved", res.RunID))
	}
	out.Fields([][2]string{
		{"Run", res.RunID},
		{"Accepted", strconv.FormatBool(res.Accepted)},
		{"Responded", strconv.FormatBool(res.Responded)},
		{"At", res.At},
	}, res)
}
