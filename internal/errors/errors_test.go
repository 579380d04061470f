package errors

import "testing"

func TestClassifyExecutionFailure(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		want   Subkind
	}{
		{"table not found", "SYNTAX_ERROR: Table d.t not found", SubkindTableNotFound},
		{"table does not exist", "Table t does not exist", SubkindTableNotFound},
		{"access denied", "Access denied when writing to s3://results/", SubkindPermissionDenied},
		{"insufficient permission", "Insufficient permissions on workgroup primary", SubkindPermissionDenied},
		{"not authorized", "User is not authorized to perform this action", SubkindPermissionDenied},
		{"mismatched input", "line 1:8: mismatched input 'FORM' expecting", SubkindSyntaxError},
		{"parse error", "parse error at line 2", SubkindSyntaxError},
		{"unrecognized reason", "Internal service error", SubkindOther},
		{"empty reason", "", SubkindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyExecutionFailure(tc.reason)
			if err.Kind != KindExecution {
				t.Fatalf("ClassifyExecutionFailure(%q).Kind = %s, want %s", tc.reason, err.Kind, KindExecution)
			}
			if err.Subkind != tc.want {
				t.Fatalf("ClassifyExecutionFailure(%q).Subkind = %s, want %s", tc.reason, err.Subkind, tc.want)
			}
			if err.Message != tc.reason {
				t.Fatalf("Message = %q, want the reason verbatim", err.Message)
			}
		})
	}
}
