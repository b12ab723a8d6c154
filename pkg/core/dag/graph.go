// Package dag Flow提交图：每次提交是一个节点，声明的上游依赖是边
package dag

import (
	"fmt"
	"sort"
	"sync"

	godag "github.com/begmaroman/go-dag"
)

// Node 图节点（实现 go-dag 的 Identifiable 接口）
type Node struct {
	NodeID string
	Name   string
	Seq    int // 提交序号
}

// ID 实现 Identifiable 接口
func (n *Node) ID() string {
	return n.NodeID
}

// Graph 提交图（对外导出）
type Graph struct {
	mu  sync.RWMutex
	d   *godag.DAG[*Node]
	seq int
}

// NewGraph 创建空图
func NewGraph() *Graph {
	return &Graph{d: godag.NewDAG[*Node]()}
}

// AddNode 添加节点及其上游边（对外导出）
// 上游必须已存在；新节点没有下游，因此不会成环
func (g *Graph) AddNode(nodeID, name string, parentIDs []string) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.d.GetVertex(nodeID); err == nil {
		return nil, fmt.Errorf("节点 %s 已存在", nodeID)
	}
	for _, parentID := range parentIDs {
		if _, err := g.d.GetVertex(parentID); err != nil {
			return nil, fmt.Errorf("上游节点 %s 不存在", parentID)
		}
	}

	g.seq++
	node := &Node{NodeID: nodeID, Name: name, Seq: g.seq}
	if _, err := g.d.AddVertex(node); err != nil {
		return nil, fmt.Errorf("添加节点失败: %w", err)
	}
	for _, parentID := range parentIDs {
		if err := g.d.AddEdge(parentID, nodeID); err != nil {
			return nil, fmt.Errorf("添加边失败: %s -> %s, Error=%w", parentID, nodeID, err)
		}
	}
	return node, nil
}

// Parents 节点的上游（按提交顺序）
func (g *Graph) Parents(nodeID string) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	parents, err := g.d.GetParents(nodeID)
	if err != nil {
		return nil, err
	}
	vertices := g.d.GetVertices()
	nodes := make(map[string]*Node, len(parents))
	for id := range parents {
		nodes[id] = vertices[id]
	}
	return sortedNodes(nodes), nil
}

// Levels 按层返回节点名（Kahn算法），同层节点可以并行执行
func (g *Graph) Levels() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	vertices := g.d.GetVertices()
	inDegree := make(map[string]int, len(vertices))
	for id := range vertices {
		parents, err := g.d.GetParents(id)
		if err != nil {
			return nil, err
		}
		inDegree[id] = len(parents)
	}

	var queue []*Node
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, vertices[id])
		}
	}

	var levels [][]string
	visited := 0
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool { return queue[i].Seq < queue[j].Seq })
		level := make([]string, 0, len(queue))
		var next []*Node
		for _, n := range queue {
			level = append(level, n.Name)
			visited++
			children, _ := g.d.GetChildren(n.NodeID)
			for childID := range children {
				inDegree[childID]--
				if inDegree[childID] == 0 {
					next = append(next, vertices[childID])
				}
			}
		}
		levels = append(levels, level)
		queue = next
	}
	if visited != len(vertices) {
		return nil, fmt.Errorf("拓扑排序失败：存在未处理的节点（可能存在环）")
	}
	return levels, nil
}

func sortedNodes(m map[string]*Node) []*Node {
	nodes := make([]*Node, 0, len(m))
	for _, n := range m {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Seq < nodes[j].Seq })
	return nodes
}
