package diag

import "testing"

func TestTree_StartCloseRecordsStatusAndDuration(t *testing.T) {
	tree := NewTree(nil)
	root := tree.Start("document", 0)
	child := tree.Start("page", root)
	tree.AddMetric(child, "pages_converted", 1)
	tree.Close(child)
	tree.Close(root)

	spans := tree.Snapshot()
	if len(spans) != 2 {
		t.Fatalf("want 2 spans, got %d", len(spans))
	}
	var childSpan *Span
	for i := range spans {
		if spans[i].ID == child {
			childSpan = &spans[i]
		}
	}
	if childSpan == nil {
		t.Fatal("want child span present")
	}
	if childSpan.ParentID != root {
		t.Fatalf("want child parented to root, got parent %d want %d", childSpan.ParentID, root)
	}
	if childSpan.Status != StatusClosed {
		t.Fatalf("want closed status, got %v", childSpan.Status)
	}
	if childSpan.Metrics["pages_converted"] != 1 {
		t.Fatalf("want metric accumulated, got %v", childSpan.Metrics)
	}
}

func TestTree_AbortMarksStatusAborted(t *testing.T) {
	tree := NewTree(nil)
	id := tree.Start("chain", 0)
	tree.Abort(id)
	spans := tree.Snapshot()
	if spans[0].Status != StatusAborted {
		t.Fatalf("want aborted status, got %v", spans[0].Status)
	}
}

func TestTree_ChildrenFiltersByParent(t *testing.T) {
	tree := NewTree(nil)
	root := tree.Start("root", 0)
	a := tree.Start("a", root)
	tree.Start("b", root)
	tree.Start("grandchild", a)

	children := tree.Children(root)
	if len(children) != 2 {
		t.Fatalf("want 2 direct children of root, got %d", len(children))
	}
}

func TestTree_AddMetricAccumulates(t *testing.T) {
	tree := NewTree(nil)
	id := tree.Start("worker", 0)
	tree.AddMetric(id, "bytes", 10)
	tree.AddMetric(id, "bytes", 5)
	spans := tree.Snapshot()
	if spans[0].Metrics["bytes"] != 15 {
		t.Fatalf("want accumulated metric 15, got %v", spans[0].Metrics["bytes"])
	}
}
