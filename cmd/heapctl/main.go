// Command heapctl drives the heapkit allocators with synthetic workloads and
// reports page and pool statistics.
package main

func main() {
	execute()
}
